// Package distribution splits a harvest's gross revenue between the grove's farmer and its
// token holders. Everything here is pure: no I/O, no clocks, no state.
package distribution

import (
	"fmt"
	"math"
	"math/big"
	"sort"
	"time"

	"grove-ledger/internal/domain"

	"github.com/shopspring/decimal"
)

// Holder is one beneficiary's position in a grove as seen by the calculator.
type Holder struct {
	BeneficiaryID string
	TokenAmount   int64
	AcquiredAt    time.Time
	IsActive      bool
}

// Share is one investor's pro-rata entitlement.
type Share struct {
	BeneficiaryID string `json:"beneficiary_id"`
	TokenAmount   int64  `json:"token_amount"`
	Amount        int64  `json:"amount"`
}

// Result is the full split of one harvest.
//
// FarmerShare + InvestorShare == GrossRevenue always. When at least one holder is eligible the
// shares sum to InvestorShare exactly: the floor remainder (Remainder) is added to the share of
// RemainderTo. With no eligible holder Shares is empty and Unallocated == InvestorShare.
type Result struct {
	GrossRevenue   int64   `json:"gross_revenue"`
	FarmerShare    int64   `json:"farmer_share"`
	InvestorShare  int64   `json:"investor_share"`
	EligibleTokens int64   `json:"eligible_tokens"`
	Shares         []Share `json:"shares"`
	Remainder      int64   `json:"remainder"`
	RemainderTo    string  `json:"remainder_to,omitempty"`
	Unallocated    int64   `json:"unallocated"`
}

// Eligible reports whether a holder takes part in a harvest at harvestedAt.
// Tokens acquired after the harvest earn nothing from it.
func Eligible(h Holder, harvestedAt time.Time) bool {
	return h.IsActive && !h.AcquiredAt.After(harvestedAt)
}

// Calculate splits harvest.GrossRevenue with farmerShareRatio and distributes the investor part
// pro rata over eligible holders.
func Calculate(harvest domain.Harvest, farmerShareRatio decimal.Decimal, holders []Holder) (*Result, error) {
	if harvest.GrossRevenue < 0 {
		return nil, ErrNegativeRevenue
	}
	if farmerShareRatio.IsNegative() || farmerShareRatio.GreaterThan(decimal.NewFromInt(1)) {
		return nil, ErrInvalidShareRatio
	}

	seen := make(map[string]struct{}, len(holders))
	var eligibleTokens int64
	for _, h := range holders {
		if h.TokenAmount <= 0 {
			return nil, fmt.Errorf("%w: %s holds %d", ErrInvalidTokenAmount, h.BeneficiaryID, h.TokenAmount)
		}
		if Eligible(h, harvest.HarvestedAt) {
			if h.TokenAmount > math.MaxInt64-eligibleTokens {
				return nil, fmt.Errorf("%w: adding %d tokens of %s", ErrTokenOverflow, h.TokenAmount, h.BeneficiaryID)
			}
			eligibleTokens += h.TokenAmount
		}
		if _, dup := seen[h.BeneficiaryID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateBeneficiary, h.BeneficiaryID)
		}
		seen[h.BeneficiaryID] = struct{}{}
	}

	farmerShare := decimal.NewFromInt(harvest.GrossRevenue).Mul(farmerShareRatio).Floor().IntPart()
	res := &Result{
		GrossRevenue:  harvest.GrossRevenue,
		FarmerShare:   farmerShare,
		InvestorShare: harvest.GrossRevenue - farmerShare,
		Shares:        []Share{},
	}

	var eligible []Holder
	for _, h := range holders {
		if Eligible(h, harvest.HarvestedAt) {
			eligible = append(eligible, h)
			res.EligibleTokens += h.TokenAmount
		}
	}
	if len(eligible) == 0 {
		res.Unallocated = res.InvestorShare
		return res, nil
	}

	sort.Slice(eligible, func(i, j int) bool { return eligible[i].BeneficiaryID < eligible[j].BeneficiaryID })

	investor := big.NewInt(res.InvestorShare)
	total := big.NewInt(res.EligibleTokens)
	var distributed int64
	for _, h := range eligible {
		amount := new(big.Int).Mul(investor, big.NewInt(h.TokenAmount))
		amount.Quo(amount, total)
		res.Shares = append(res.Shares, Share{
			BeneficiaryID: h.BeneficiaryID,
			TokenAmount:   h.TokenAmount,
			Amount:        amount.Int64(),
		})
		distributed += amount.Int64()
	}

	res.Remainder = res.InvestorShare - distributed
	if res.Remainder > 0 {
		idx := largestHolder(eligible)
		res.Shares[idx].Amount += res.Remainder
		res.RemainderTo = res.Shares[idx].BeneficiaryID
	}
	return res, nil
}

// largestHolder picks who absorbs the rounding remainder: most tokens, then earliest
// acquisition, then smallest id. holders must be sorted by BeneficiaryID.
func largestHolder(holders []Holder) int {
	best := 0
	for i := 1; i < len(holders); i++ {
		h, b := holders[i], holders[best]
		switch {
		case h.TokenAmount > b.TokenAmount:
			best = i
		case h.TokenAmount == b.TokenAmount && h.AcquiredAt.Before(b.AcquiredAt):
			best = i
		}
	}
	return best
}

// Consolidate turns raw holdings into one Holder per investor, keeping only holdings eligible
// at asOf. Each merged Holder is active and carries the earliest eligible acquisition time.
func Consolidate(holdings []domain.Holding, asOf time.Time) []Holder {
	byInvestor := make(map[string]*Holder)
	var order []string
	for _, h := range holdings {
		candidate := Holder{BeneficiaryID: h.InvestorID, TokenAmount: h.TokenAmount, AcquiredAt: h.AcquiredAt, IsActive: h.IsActive}
		if !Eligible(candidate, asOf) {
			continue
		}
		if h.TokenAmount <= 0 {
			// kept unmerged so Calculate rejects it instead of it being summed away
			bad := candidate
			byInvestor[h.HoldingID.String()] = &bad
			order = append(order, h.HoldingID.String())
			continue
		}
		cur, ok := byInvestor[h.InvestorID]
		if !ok {
			c := candidate
			byInvestor[h.InvestorID] = &c
			order = append(order, h.InvestorID)
			continue
		}
		if cur.TokenAmount > math.MaxInt64-h.TokenAmount {
			// kept unmerged so Calculate rejects the total instead of it wrapping
			extra := candidate
			byInvestor[h.HoldingID.String()] = &extra
			order = append(order, h.HoldingID.String())
			continue
		}
		cur.TokenAmount += h.TokenAmount
		if h.AcquiredAt.Before(cur.AcquiredAt) {
			cur.AcquiredAt = h.AcquiredAt
		}
	}
	out := make([]Holder, 0, len(order))
	for _, id := range order {
		out = append(out, *byInvestor[id])
	}
	return out
}
