package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/openrisk/kestrel/internal/domain"
)

// Compiler turns custom rule configurations into executable rules. Custom
// rules are CEL boolean expressions over the raw transaction attributes.
type Compiler struct {
	env *cel.Env
}

// NewCompiler creates a CEL environment exposing the transaction variables.
func NewCompiler() (*Compiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("velocity", cel.DoubleType),
		cel.Variable("distance_km", cel.DoubleType),
		cel.Variable("minutes_since_last", cel.DoubleType),
		cel.Variable("prev_count", cel.IntType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("day_of_week", cel.IntType),
		cel.Variable("location", cel.StringType),
		cel.Variable("card_type", cel.StringType),
		cel.Variable("category", cel.StringType),
		cel.Variable("auth_method", cel.StringType),
		cel.Variable("status", cel.StringType),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Compiler{env: env}, nil
}

// Validate compiles a rule configuration without producing a rule.
func (c *Compiler) Validate(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return &domain.ConfigError{Component: "custom rule", Reason: "rule config is required"}
	}
	_, err := c.compileProgram(cfg)
	return err
}

// Compile turns one rule configuration into an executable Rule. A rule whose
// expression errors at evaluation time simply does not fire; a scoring
// surprise must never fail the whole evaluation.
func (c *Compiler) Compile(cfg *domain.RuleConfig) (Rule, error) {
	program, err := c.compileProgram(cfg)
	if err != nil {
		return Rule{}, err
	}

	label := cfg.Label
	if label == "" {
		label = cfg.Name
	}

	return Rule{
		ID:     cfg.ID,
		Label:  label,
		Weight: cfg.Weight,
		Match: func(tx *domain.Transaction) bool {
			out, _, err := program.Eval(activation(tx))
			if err != nil {
				return false
			}
			b, ok := out.(types.Bool)
			return ok && bool(b)
		},
	}, nil
}

// CompileAll compiles every enabled configuration, preserving load order.
func (c *Compiler) CompileAll(configs []*domain.RuleConfig) ([]Rule, error) {
	var compiled []Rule
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		rule, err := c.Compile(cfg)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, rule)
	}
	return compiled, nil
}

func (c *Compiler) compileProgram(cfg *domain.RuleConfig) (cel.Program, error) {
	ast, issues := c.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return program, nil
}

// activation maps a transaction onto the CEL variable set.
func activation(tx *domain.Transaction) map[string]any {
	metadata := tx.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	return map[string]any{
		"amount":             tx.Amount,
		"currency":           tx.Currency,
		"velocity":           tx.Velocity,
		"distance_km":        tx.DistanceKM,
		"minutes_since_last": tx.MinutesSinceLast,
		"prev_count":         int64(tx.PreviousTxCount),
		"hour":               int64(tx.Timestamp.Hour()),
		"day_of_week":        int64(tx.Timestamp.Weekday()),
		"location":           tx.Location,
		"card_type":          tx.CardType,
		"category":           tx.Category,
		"auth_method":        tx.AuthMethod,
		"status":             tx.Status,
		"metadata":           metadata,
	}
}
