package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/credora/credora/internal/signals"
)

// ErrUpstreamUnavailable is returned when a remote inference backend cannot
// produce a result.
var ErrUpstreamUnavailable = errors.New("inference backend unavailable")

// Tier is the coarse creditworthiness label.
type Tier string

const (
	TierLow    Tier = "Low"
	TierMedium Tier = "Medium"
	TierHigh   Tier = "High"
)

// ParseTier accepts the canonical tier names.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierLow, TierMedium, TierHigh:
		return Tier(s), nil
	default:
		return "", fmt.Errorf("unknown tier %q", s)
	}
}

// Impact is the direction a factor pushed the result.
type Impact string

const (
	ImpactPositive Impact = "positive"
	ImpactNegative Impact = "negative"
	ImpactNeutral  Impact = "neutral"
)

// Factor names one contribution to a result.
type Factor struct {
	Name        string  `json:"factor"`
	Impact      Impact  `json:"impact"`
	Weight      float64 `json:"weight"`
	Description string  `json:"description"`
}

// Result is the output of one classification. NumericScore is nil in rule mode.
type Result struct {
	Tier         Tier      `json:"riskLevel"`
	NumericScore *int      `json:"numericScore,omitempty"`
	Confidence   float64   `json:"confidence"`
	Factors      []Factor  `json:"factors"`
	ModelVersion string    `json:"modelVersion"`
	ComputedAt   time.Time `json:"computedAt"`
	// BackendTier is the label a remote backend reported. Tier is always
	// derived from NumericScore.
	BackendTier string `json:"backendRiskLevel,omitempty"`
}

// Engine classifies wallet signals. Implementations must not fail for
// well-formed signals unless they depend on a remote backend.
type Engine interface {
	Mode() string
	Classify(ctx context.Context, s signals.Signals) (Result, error)
}

const (
	ModeRule     = "rule"
	ModeWeighted = "weighted"
	ModeRemote   = "remote"
)

// Options selects and configures an engine.
type Options struct {
	Mode             string
	RulesFile        string
	InferenceURL     string
	InferenceTimeout time.Duration
}

// New builds the engine named by opts.Mode.
func New(opts Options) (Engine, error) {
	switch opts.Mode {
	case "", ModeRule:
		set, err := loadRuleSet(opts.RulesFile)
		if err != nil {
			return nil, err
		}
		return NewRuleEngine(set), nil
	case ModeWeighted:
		return NewWeightedEngine(), nil
	case ModeRemote:
		if opts.InferenceURL == "" {
			return nil, errors.New("remote scoring requires an inference url")
		}
		return NewRemoteEngine(opts.InferenceURL, opts.InferenceTimeout), nil
	default:
		return nil, fmt.Errorf("unknown scoring mode %q", opts.Mode)
	}
}

func loadRuleSet(path string) (RuleSet, error) {
	if path == "" {
		return DefaultRules()
	}
	return LoadRules(path)
}

var factorDescriptions = map[string]map[Impact]string{
	"balance": {
		ImpactPositive: "High wallet balance indicates financial stability",
		ImpactNegative: "Low wallet balance may indicate financial stress",
		ImpactNeutral:  "Moderate wallet balance",
	},
	"transaction_count": {
		ImpactPositive: "High transaction count shows active wallet usage",
		ImpactNegative: "Low transaction count may indicate inactivity",
		ImpactNeutral:  "Moderate transaction activity",
	},
	"activity_recency": {
		ImpactPositive: "Recent activity shows wallet is actively used",
		ImpactNegative: "No recent activity may indicate abandoned wallet",
		ImpactNeutral:  "Moderate activity recency",
	},
	"repayment_rate": {
		ImpactPositive: "Good repayment history increases creditworthiness",
		ImpactNegative: "Poor repayment history reduces creditworthiness",
		ImpactNeutral:  "Mixed repayment history",
	},
}

// DescribeFactor returns the human readable text for a factor/impact pair.
func DescribeFactor(name string, impact Impact) string {
	if byImpact, ok := factorDescriptions[name]; ok {
		if d, ok := byImpact[impact]; ok {
			return d
		}
	}
	return "Factor impact on credit score"
}

// TierForScore maps a numeric score onto a risk tier.
func TierForScore(score int) Tier {
	switch {
	case score >= 700:
		return TierHigh
	case score >= 400:
		return TierMedium
	default:
		return TierLow
	}
}

func clampScore(v int) int {
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}
