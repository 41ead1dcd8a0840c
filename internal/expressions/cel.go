package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/rendis/wfstatus/pkg/schema"
)

// celVariables are the top-level documents a filter can reference.
var celVariables = []string{RootWorkflow, RootEvent, RootSnapshot}

// CELEngine implements Engine with Google's Common Expression Language.
// Besides the standard library it declares jobStage(workflow, name), which
// returns the stage a job is in or "" when untracked.
type CELEngine struct {
	env   *cel.Env
	cache *programCache[cel.Program]
}

// NewCELEngine creates a CEL engine whose environment declares
// workflow, event and snapshot as map(string, dyn).
func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)

	opts := make([]cel.EnvOption, 0, len(celVariables)+1)
	for _, v := range celVariables {
		opts = append(opts, cel.Variable(v, mapType))
	}
	opts = append(opts, cel.Function("jobStage",
		cel.Overload("job_stage_map_string",
			[]*cel.Type{mapType, cel.StringType}, cel.StringType,
			cel.BinaryBinding(celJobStage),
		),
	))
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEngine{env: env, cache: newProgramCache[cel.Program](DefaultCacheSize)}, nil
}

func celJobStage(doc, name ref.Val) ref.Val {
	m, ok := doc.Value().(map[string]any)
	if !ok {
		return types.NewErr("jobStage: first argument is not a workflow document")
	}
	job, ok := name.Value().(string)
	if !ok {
		return types.NewErr("jobStage: second argument is not a string")
	}
	return types.String(JobStage(m, job))
}

func (e *CELEngine) Name() string {
	return "cel"
}

// Evaluate compiles (or reuses) expression and runs it against data.
// Missing documents default to empty maps.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}

	prg, err := e.cache.get(expression, e.compile)
	if err != nil {
		return nil, err
	}

	activation := make(map[string]any, len(celVariables))
	for _, key := range celVariables {
		if v, ok := data[key]; ok && v != nil {
			activation[key] = v
		} else {
			activation[key] = map[string]any{}
		}
	}

	out, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return nil, evalError("CEL", expression, err)
	}
	return out.Value(), nil
}

func (e *CELEngine) compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, compileError("CEL compile", expression, issues.Err())
	}
	prg, err := e.env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, compileError("CEL program", expression, err)
	}
	return prg, nil
}

// compileError reports an expression that cannot be compiled.
func compileError(stage, expression string, err error) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "%s error in %q: %s", stage, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression})
}

// evalError reports a compiled expression that failed against its input.
func evalError(lang, expression string, err error) error {
	return schema.NewErrorf(schema.ErrCodeExecution, "%s evaluation failed for %q: %s", lang, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression})
}

var _ Engine = (*CELEngine)(nil)
