// Package relation builds the account-relationship lookup structures used
// by the wash-trading, front-running, and collusion categories.
package relation

import (
	"sort"

	"github.com/finsentry/tradewatch/internal/model"
)

// Pair is an unordered account pair stored in canonical (A < B) order.
type Pair struct {
	A string
	B string
}

// NewPair canonicalizes an account pair so (a,b) and (b,a) dedupe to the
// same key.
func NewPair(a, b string) Pair {
	if b < a {
		a, b = b, a
	}
	return Pair{A: a, B: b}
}

// Index holds the relationship lookups built once per engine run:
// owner partition, related-pair edge set, and account→firm map.
type Index struct {
	ownerAccounts map[string][]string
	accountOwner  map[string]string
	accountFirm   map[string]string
	relatedPairs  map[Pair]struct{}
	sharedInfra   map[Pair]struct{}
}

// Build constructs the index in O(N) over accounts plus O(E) over
// shared-attribute collisions: accounts are bucketed by IP address and
// device fingerprint, then combined pairwise within each bucket.
func Build(accounts []model.Account) *Index {
	idx := &Index{
		ownerAccounts: make(map[string][]string),
		accountOwner:  make(map[string]string),
		accountFirm:   make(map[string]string),
		relatedPairs:  make(map[Pair]struct{}),
		sharedInfra:   make(map[Pair]struct{}),
	}

	ipBuckets := make(map[string][]string)
	deviceBuckets := make(map[string][]string)

	for _, acct := range accounts {
		if acct.AccountID == "" {
			continue
		}
		if acct.BeneficialOwnerID != "" {
			idx.ownerAccounts[acct.BeneficialOwnerID] = append(idx.ownerAccounts[acct.BeneficialOwnerID], acct.AccountID)
			idx.accountOwner[acct.AccountID] = acct.BeneficialOwnerID
		}
		if acct.FirmID != "" {
			idx.accountFirm[acct.AccountID] = acct.FirmID
		}
		for _, rel := range acct.RelatedAccounts {
			if rel != "" && rel != acct.AccountID {
				// Explicit relations may be declared asymmetrically;
				// canonical pairs symmetrize them.
				idx.relatedPairs[NewPair(acct.AccountID, rel)] = struct{}{}
			}
		}
		for _, ip := range acct.IPAddresses {
			if ip != "" {
				ipBuckets[ip] = append(ipBuckets[ip], acct.AccountID)
			}
		}
		for _, dev := range acct.DeviceFingerprints {
			if dev != "" {
				deviceBuckets[dev] = append(deviceBuckets[dev], acct.AccountID)
			}
		}
	}

	combine := func(buckets map[string][]string) {
		for _, ids := range buckets {
			for i := 0; i < len(ids); i++ {
				for j := i + 1; j < len(ids); j++ {
					if ids[i] == ids[j] {
						continue
					}
					p := NewPair(ids[i], ids[j])
					idx.relatedPairs[p] = struct{}{}
					idx.sharedInfra[p] = struct{}{}
				}
			}
		}
	}
	combine(ipBuckets)
	combine(deviceBuckets)

	for owner := range idx.ownerAccounts {
		sort.Strings(idx.ownerAccounts[owner])
	}
	return idx
}

// Owner returns the beneficial owner of an account, if known.
func (idx *Index) Owner(accountID string) (string, bool) {
	o, ok := idx.accountOwner[accountID]
	return o, ok
}

// SameOwner reports whether two distinct accounts share a beneficial owner.
func (idx *Index) SameOwner(a, b string) bool {
	if a == b {
		return false
	}
	oa, oka := idx.accountOwner[a]
	ob, okb := idx.accountOwner[b]
	return oka && okb && oa == ob
}

// Related reports whether two distinct accounts are related, either
// explicitly or through a shared IP address or device fingerprint.
func (idx *Index) Related(a, b string) bool {
	if a == b {
		return false
	}
	_, ok := idx.relatedPairs[NewPair(a, b)]
	return ok
}

// SharesInfrastructure reports whether two distinct accounts share an IP
// address or device fingerprint.
func (idx *Index) SharesInfrastructure(a, b string) bool {
	if a == b {
		return false
	}
	_, ok := idx.sharedInfra[NewPair(a, b)]
	return ok
}

// Firm returns the firm an account belongs to, if known.
func (idx *Index) Firm(accountID string) (string, bool) {
	f, ok := idx.accountFirm[accountID]
	return f, ok
}

// OwnerAccounts returns the sorted accounts controlled by an owner.
func (idx *Index) OwnerAccounts(ownerID string) []string {
	return idx.ownerAccounts[ownerID]
}

// RelatedPairCount returns the number of distinct related pairs.
func (idx *Index) RelatedPairCount() int {
	return len(idx.relatedPairs)
}
