package expressions

import (
	"context"
	"fmt"

	"github.com/rendis/wfstatus/pkg/schema"
)

// Engine evaluates an expression against a document.
// Three implementations: CEL and Expr (filters), GoJQ (projections).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Engines bundles the three engines behind their language names.
type Engines struct {
	CEL  *CELEngine
	Expr *ExprEngine
	JQ   *GoJQEngine
}

// NewEngines builds all three engines.
func NewEngines() (*Engines, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Engines{CEL: celEngine, Expr: NewExprEngine(), JQ: NewGoJQEngine()}, nil
}

// Get returns the engine for lang: "cel" (the default when empty), "expr" or "jq".
func (e *Engines) Get(lang string) (Engine, error) {
	switch lang {
	case "", "cel":
		return e.CEL, nil
	case "expr":
		return e.Expr, nil
	case "jq":
		return e.JQ, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown expression language %q", lang)
	}
}

// Match evaluates a boolean filter. A non-boolean result is a VALIDATION_ERROR.
func Match(ctx context.Context, engine Engine, expression string, doc map[string]any) (bool, error) {
	out, err := engine.Evaluate(ctx, expression, doc)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"%s filter %q returned %s, want bool", engine.Name(), expression, fmt.Sprintf("%T", out)).
			WithDetails(map[string]any{"expression": expression})
	}
	return b, nil
}
