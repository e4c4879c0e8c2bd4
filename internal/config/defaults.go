package config

// Default returns the engine's documented default configuration. Every
// threshold below is overridable through the YAML config file.
func Default() Config {
	return Config{
		LogLevel: "info",

		WashTrade: WashTrade{
			Common: Common{
				MinOccurrences:            3,
				TimeWindowSeconds:         86400,
				SeverityHighOccurrences:   10,
				SeverityMediumOccurrences: 5,
				ConfidenceBase:            0.5,
				ConfidenceSlope:           0.04,
			},
			PriceTolerancePct:      0.1,
			RoundTripWindowSeconds: 300,
			MaxPriceImpactPct:      0.05,
			MinInflatedShare:       0.5,
		},
		Spoof: Spoof{
			Common: Common{
				MinOccurrences:            1,
				TimeWindowSeconds:         60,
				SeverityHighOccurrences:   8,
				SeverityMediumOccurrences: 4,
				ConfidenceBase:            0.55,
				ConfidenceSlope:           0.04,
			},
			MinPriceLevels:         2,
			MinClusterOrders:       4,
			LayerWindowSeconds:     60,
			CancelWindowSeconds:    120,
			ExecutionWindowSeconds: 300,
			MinCancelRate:          0.5,
			RapidCancelSeconds:     30,
			BurstWindowSeconds:     10,
			MinBurstOrders:         20,
			MaxDisplayedRatio:      0.2,
		},
		FrontRun: FrontRun{
			Common: Common{
				MinOccurrences:            1,
				TimeWindowSeconds:         300,
				SeverityHighOccurrences:   6,
				SeverityMediumOccurrences: 3,
				ConfidenceBase:            0.5,
				ConfidenceSlope:           0.05,
			},
			SizeMultiple:             5,
			LookbackSeconds:          120,
			BaselineLookbackDays:     30,
			MinBaselineOrders:        3,
			MinInstrumentsForPattern: 3,
			ProfitWindowSeconds:      600,
			MinProfitPct:             0.1,
		},
		CloseMark: CloseMark{
			Common: Common{
				MinOccurrences:            2,
				TimeWindowSeconds:         1800,
				SeverityHighOccurrences:   8,
				SeverityMediumOccurrences: 4,
				ConfidenceBase:            0.5,
				ConfidenceSlope:           0.05,
			},
			CloseWindowMinutes: 30,
			CloseMinuteOfDay:   16 * 60,
			MinConcentration:   0.4,
			MinPriceImpactPct:  0.5,
		},
		Insider: Insider{
			Common: Common{
				MinOccurrences:            1,
				TimeWindowSeconds:         86400,
				SeverityHighOccurrences:   4,
				SeverityMediumOccurrences: 2,
				ConfidenceBase:            0.55,
				ConfidenceSlope:           0.08,
			},
			PreEventDays:         5,
			BaselineLookbackDays: 60,
			MinVolumeZScore:      3,
			MinPriceMovePct:      2,
			PostEventDays:        2,
			MinProfitPct:         1,
		},
		Collusion: Collusion{
			Common: Common{
				MinOccurrences:            3,
				TimeWindowSeconds:         60,
				SeverityHighOccurrences:   12,
				SeverityMediumOccurrences: 6,
				ConfidenceBase:            0.45,
				ConfidenceSlope:           0.035,
			},
			BucketSeconds:       60,
			MinAccounts:         3,
			MinBuckets:          3,
			PriceTolerancePct:   0.2,
			QtyTolerancePct:     5,
			CircleWindowSeconds: 3600,
		},
		CrossVenue: CrossVenue{
			Common: Common{
				MinOccurrences:            3,
				TimeWindowSeconds:         60,
				SeverityHighOccurrences:   10,
				SeverityMediumOccurrences: 5,
				ConfidenceBase:            0.5,
				ConfidenceSlope:           0.04,
			},
			MinDivergencePct:  1,
			BucketSeconds:     60,
			MinShiftRatio:     0.5,
			PriceTolerancePct: 0.1,
		},
		Benchmark: Benchmark{
			Common: Common{
				MinOccurrences:            2,
				TimeWindowSeconds:         300,
				SeverityHighOccurrences:   8,
				SeverityMediumOccurrences: 4,
				ConfidenceBase:            0.5,
				ConfidenceSlope:           0.05,
			},
			FixingStartMinute:    15*60 + 55,
			FixingEndMinute:      16 * 60,
			MinConcentration:     0.35,
			MinPriceImpactPct:    0.4,
			MinVolumeZScore:      2.5,
			BaselineLookbackDays: 20,
		},
		Structuring: Structuring{
			Common: Common{
				MinOccurrences:            2,
				TimeWindowSeconds:         3600,
				SeverityHighOccurrences:   8,
				SeverityMediumOccurrences: 4,
				ConfidenceBase:            0.5,
				ConfidenceSlope:           0.05,
			},
			ReportingThreshold:    10000,
			ThresholdMarginPct:    10,
			ClusterWindowSeconds:  3600,
			MinTradesPerCluster:   3,
			RoundAmountModulus:    1000,
			MinRoundShare:         0.8,
			VelocityWindowSeconds: 600,
			MinVelocityTrades:     10,
		},
		Derivative: Derivative{
			Common: Common{
				MinOccurrences:            2,
				TimeWindowSeconds:         1800,
				SeverityHighOccurrences:   6,
				SeverityMediumOccurrences: 3,
				ConfidenceBase:            0.5,
				ConfidenceSlope:           0.06,
			},
			ExpiryWindowMinutes: 30,
			StrikeTolerancePct:  0.5,
			MinConcentration:    0.4,
			LinkWindowSeconds:   300,
			RampBucketSeconds:   600,
			MinRampBuckets:      4,
		},
	}
}
