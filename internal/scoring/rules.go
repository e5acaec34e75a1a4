package scoring

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"math/big"
	"os"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/credora/credora/internal/signals"
)

//go:embed rules.yaml
var defaultRules []byte

// Rule is one ordered tier check. When is a CEL expression over `balance`
// (double) and `transactionCount` (int) that must evaluate to a bool.
type Rule struct {
	Name        string `yaml:"name"`
	When        string `yaml:"when"`
	Tier        Tier   `yaml:"tier"`
	Description string `yaml:"description"`

	program cel.Program
}

// RuleSet is an ordered rule table. The first matching rule wins.
type RuleSet struct {
	Version  string `yaml:"version"`
	Fallback Tier   `yaml:"fallback"`
	Rules    []Rule `yaml:"rules"`
}

// NewRuleEnv declares the variables rule expressions may reference.
func NewRuleEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("balance", cel.DoubleType),
		cel.Variable("transactionCount", cel.IntType),
	)
}

// Init compiles the When expression.
func (r *Rule) Init(env *cel.Env) error {
	ast, iss := env.Parse(r.When)
	if iss.Err() != nil {
		return iss.Err()
	}
	checked, iss := env.Check(ast)
	if iss.Err() != nil {
		return iss.Err()
	}
	if !checked.OutputType().IsExactType(cel.BoolType) {
		return fmt.Errorf("expression must return bool, got %s", checked.OutputType())
	}

	program, err := env.Program(checked)
	if err != nil {
		return err
	}
	r.program = program
	return nil
}

func (r *Rule) matches(vars map[string]any) (bool, error) {
	out, _, err := r.program.Eval(vars)
	if err != nil {
		return false, err
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule %s returned %T", r.Name, out.Value())
	}
	return matched, nil
}

// DefaultRules returns the built-in three tier table.
func DefaultRules() (RuleSet, error) {
	return ParseRules(defaultRules)
}

// LoadRules reads and compiles a rule table from a YAML file.
func LoadRules(path string) (RuleSet, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("read rules: %w", err)
	}
	return ParseRules(content)
}

// ParseRules decodes and compiles a YAML rule table.
func ParseRules(content []byte) (RuleSet, error) {
	var set RuleSet
	if err := yaml.Unmarshal(content, &set); err != nil {
		return RuleSet{}, fmt.Errorf("decode rules: %w", err)
	}
	if len(set.Rules) == 0 {
		return RuleSet{}, errors.New("rule table is empty")
	}
	if set.Fallback == "" {
		set.Fallback = TierLow
	}
	if _, err := ParseTier(string(set.Fallback)); err != nil {
		return RuleSet{}, fmt.Errorf("fallback: %w", err)
	}
	if set.Version == "" {
		set.Version = "credora-rules@1.0.0"
	}

	env, err := NewRuleEnv()
	if err != nil {
		return RuleSet{}, err
	}
	for i := range set.Rules {
		r := &set.Rules[i]
		if r.Name == "" {
			return RuleSet{}, fmt.Errorf("rule %d has no name", i)
		}
		if _, err := ParseTier(string(r.Tier)); err != nil {
			return RuleSet{}, fmt.Errorf("rule %s: %w", r.Name, err)
		}
		if err := r.Init(env); err != nil {
			return RuleSet{}, fmt.Errorf("rule %s: %w", r.Name, err)
		}
	}
	return set, nil
}

// RuleEngine is the deterministic threshold classifier.
type RuleEngine struct {
	set RuleSet
	now func() time.Time
}

// NewRuleEngine builds an engine over a compiled rule set.
func NewRuleEngine(set RuleSet) *RuleEngine {
	return &RuleEngine{set: set, now: time.Now}
}

func (e *RuleEngine) Mode() string { return ModeRule }

// Classify evaluates the rules in order. An evaluation error means the rule
// table is inconsistent with the variables it was compiled against.
func (e *RuleEngine) Classify(_ context.Context, s signals.Signals) (Result, error) {
	vars := map[string]any{
		"balance":          ruleBalance(s.Balance),
		"transactionCount": int64(s.TransactionCount),
	}

	tier := e.set.Fallback
	factor := Factor{Name: "fallback", Weight: 1, Description: "No rule matched"}
	for i := range e.set.Rules {
		r := &e.set.Rules[i]
		ok, err := r.matches(vars)
		if err != nil {
			return Result{}, err
		}
		if ok {
			tier = r.Tier
			desc := r.Description
			if desc == "" {
				desc = r.When
			}
			factor = Factor{Name: r.Name, Weight: 1, Description: desc}
			break
		}
	}
	factor.Impact = tierImpact(tier)

	return Result{
		Tier:         tier,
		Confidence:   1.0,
		Factors:      []Factor{factor},
		ModelVersion: e.set.Version,
		ComputedAt:   e.now().UTC(),
	}, nil
}

// ruleBalance converts balance to a double for CEL. When the conversion is
// inexact the result is moved one ulp away from the nearest double, towards
// the exact value, so it never equals a threshold the decimal differs from.
func ruleBalance(balance decimal.Decimal) float64 {
	exact := balance.Rat()
	f, ok := exact.Float64()
	if ok {
		return f
	}
	switch exact.Cmp(new(big.Rat).SetFloat64(f)) {
	case 1:
		return math.Nextafter(f, math.Inf(1))
	case -1:
		return math.Nextafter(f, math.Inf(-1))
	default:
		return f
	}
}

func tierImpact(t Tier) Impact {
	switch t {
	case TierHigh:
		return ImpactPositive
	case TierMedium:
		return ImpactNeutral
	default:
		return ImpactNegative
	}
}
