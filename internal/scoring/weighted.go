package scoring

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/credora/credora/internal/signals"
)

const (
	MinScore  = 0
	MaxScore  = 1000
	baseScore = 500

	WeightedModelVersion = "credora-credit-scoring-v1@1.0.0"
	weightedConfidence   = 0.85
)

var (
	one  = decimal.NewFromInt(1)
	half = decimal.NewFromFloat(0.5)
)

// WeightedEngine is the additive 0-1000 scorer.
type WeightedEngine struct {
	now func() time.Time
}

// NewWeightedEngine returns a WeightedEngine using the wall clock.
func NewWeightedEngine() *WeightedEngine {
	return &WeightedEngine{now: time.Now}
}

func (e *WeightedEngine) Mode() string { return ModeWeighted }

// Classify never fails. Negative balances or counts are outside its contract.
func (e *WeightedEngine) Classify(_ context.Context, s signals.Signals) (Result, error) {
	score := Score(s.Balance, s.TransactionCount)

	balanceImpact := ImpactNegative
	if s.Balance.GreaterThan(one) {
		balanceImpact = ImpactPositive
	}
	txImpact := ImpactNegative
	if s.TransactionCount > 10 {
		txImpact = ImpactPositive
	}
	// recency is a fixed placeholder contribution
	recencyImpact := ImpactPositive

	factors := []Factor{
		{Name: "balance", Impact: balanceImpact, Weight: 0.4, Description: DescribeFactor("balance", balanceImpact)},
		{Name: "transaction_count", Impact: txImpact, Weight: 0.3, Description: DescribeFactor("transaction_count", txImpact)},
		{Name: "activity_recency", Impact: recencyImpact, Weight: 0.3, Description: DescribeFactor("activity_recency", recencyImpact)},
	}

	return Result{
		Tier:         TierForScore(score),
		NumericScore: &score,
		Confidence:   weightedConfidence,
		Factors:      factors,
		ModelVersion: WeightedModelVersion,
		ComputedAt:   e.now().UTC(),
	}, nil
}

// Score computes the clamped numeric score for a balance and transaction count.
func Score(balance decimal.Decimal, txCount int) int {
	score := baseScore

	switch {
	case balance.GreaterThan(one):
		score += 200
	case balance.GreaterThan(half):
		score += 100
	default:
		score -= 100
	}

	switch {
	case txCount > 20:
		score += 150
	case txCount > 10:
		score += 75
	case txCount > 5:
		score += 25
	default:
		score -= 50
	}

	return clampScore(score)
}
