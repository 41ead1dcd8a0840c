package expressions

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/wfstatus/pkg/schema"
)

// ExprEngine implements Engine with expr-lang/expr. Filters can use its
// builtins over job lists, e.g. `"load" in workflow.running_jobs` or
// `len(workflow.prep_jobs) == 0 && workflow.run_state != "PREP"`, and
// jobStage(workflow, name) as in CEL. Undefined variables evaluate to nil.
type ExprEngine struct {
	cache *programCache[*vm.Program]
}

// NewExprEngine creates an Expr engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{cache: newProgramCache[*vm.Program](DefaultCacheSize)}
}

func (e *ExprEngine) Name() string {
	return "expr"
}

// Evaluate runs expression with data's keys as top-level variables.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prg, err := e.cache.get(expression, compileExpr)
	if err != nil {
		return nil, err
	}

	env := data
	if env == nil {
		env = map[string]any{}
	}
	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, evalError("expr", expression, err)
	}
	return out, nil
}

// compileExpr compiles against an untyped environment so one program
// serves documents of any shape.
func compileExpr(expression string) (*vm.Program, error) {
	prg, err := expr.Compile(expression,
		expr.AllowUndefinedVariables(),
		expr.Function("jobStage", exprJobStage, new(func(map[string]any, string) string)),
	)
	if err != nil {
		return nil, compileError("expr compile", expression, err)
	}
	return prg, nil
}

func exprJobStage(params ...any) (any, error) {
	doc, ok := params[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("jobStage: first argument is %T, want a workflow document", params[0])
	}
	name, ok := params[1].(string)
	if !ok {
		return nil, fmt.Errorf("jobStage: second argument is %T, want string", params[1])
	}
	return JobStage(doc, name), nil
}

var _ Engine = (*ExprEngine)(nil)
