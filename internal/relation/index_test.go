package relation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/finsentry/tradewatch/internal/model"
)

func TestNewPairCanonical(t *testing.T) {
	assert.Equal(t, NewPair("a", "b"), NewPair("b", "a"))
}

func TestSameOwner(t *testing.T) {
	idx := Build([]model.Account{
		{AccountID: "A1", BeneficialOwnerID: "O1"},
		{AccountID: "A2", BeneficialOwnerID: "O1"},
		{AccountID: "A3", BeneficialOwnerID: "O2"},
		{AccountID: "A4"},
	})
	assert.True(t, idx.SameOwner("A1", "A2"))
	assert.True(t, idx.SameOwner("A2", "A1"))
	assert.False(t, idx.SameOwner("A1", "A3"))
	assert.False(t, idx.SameOwner("A1", "A1"), "an account is not its own wash counterparty")
	assert.False(t, idx.SameOwner("A1", "A4"), "unknown owner never matches")
	assert.Equal(t, []string{"A1", "A2"}, idx.OwnerAccounts("O1"))
}

func TestRelatedSymmetrizesExplicitEdges(t *testing.T) {
	// A1 declares A2; A2 declares nothing. The relation still holds both ways.
	idx := Build([]model.Account{
		{AccountID: "A1", RelatedAccounts: []string{"A2"}},
		{AccountID: "A2"},
	})
	assert.True(t, idx.Related("A1", "A2"))
	assert.True(t, idx.Related("A2", "A1"))
	assert.Equal(t, 1, idx.RelatedPairCount())
}

func TestSharedInfrastructure(t *testing.T) {
	idx := Build([]model.Account{
		{AccountID: "A1", IPAddresses: []string{"10.0.0.1"}},
		{AccountID: "A2", IPAddresses: []string{"10.0.0.1", "10.0.0.2"}},
		{AccountID: "A3", DeviceFingerprints: []string{"dev-x"}},
		{AccountID: "A4", DeviceFingerprints: []string{"dev-x"}},
		{AccountID: "A5", IPAddresses: []string{"10.0.0.9"}},
	})
	assert.True(t, idx.SharesInfrastructure("A1", "A2"), "shared IP")
	assert.True(t, idx.SharesInfrastructure("A3", "A4"), "shared device")
	assert.False(t, idx.SharesInfrastructure("A1", "A5"))
	assert.True(t, idx.Related("A1", "A2"), "infrastructure edges imply relatedness")
}

func TestBuildDedupesRepeatedCollisions(t *testing.T) {
	// Two shared IPs between the same pair still yield one edge.
	idx := Build([]model.Account{
		{AccountID: "A1", IPAddresses: []string{"ip-a", "ip-b"}},
		{AccountID: "A2", IPAddresses: []string{"ip-a", "ip-b"}},
	})
	assert.Equal(t, 1, idx.RelatedPairCount())
}

func TestFirmLookup(t *testing.T) {
	idx := Build([]model.Account{{AccountID: "A1", FirmID: "F1"}})
	f, ok := idx.Firm("A1")
	assert.True(t, ok)
	assert.Equal(t, "F1", f)
	_, ok = idx.Firm("A9")
	assert.False(t, ok)
}
