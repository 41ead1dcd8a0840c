package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/wfstatus/pkg/schema"
)

const confSchemaURL = "https://wfstatus.dev/schemas/workflow-conf.json"

// confSchemaJSON is the JSON Schema for WorkflowConf.
const confSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://wfstatus.dev/schemas/workflow-conf.json",
  "type": "object",
  "required": ["name", "jobs"],
  "properties": {
    "name": {
      "type": "string",
      "minLength": 1,
      "maxLength": 256
    },
    "jobs": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/job" }
    },
    "metadata": {
      "type": "object"
    }
  },
  "additionalProperties": false,
  "$defs": {
    "job": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {
          "type": "string",
          "pattern": "^[A-Za-z0-9][A-Za-z0-9_.:-]{0,254}$"
        },
        "depends_on": {
          "type": "array",
          "items": { "type": "string" }
        }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator validates a WorkflowConf's shape against the embedded
// schema and, optionally, its metadata against a caller-supplied schema.
// It is safe for concurrent use.
type JSONSchemaValidator struct {
	confSchema *jsonschema.Schema

	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator compiles the workflow conf schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newCompiler()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(confSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal conf schema: %w", err)
	}
	if err := c.AddResource(confSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add conf schema resource: %w", err)
	}
	compiled, err := c.Compile(confSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile conf schema: %w", err)
	}

	return &JSONSchemaValidator{
		confSchema: compiled,
		cache:      make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateConf checks the conf's structure only.
func (v *JSONSchemaValidator) ValidateConf(conf *schema.WorkflowConf) error {
	if conf == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow conf is nil")
	}
	doc, err := toJSONValue(conf)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow conf").WithCause(err)
	}
	if err := v.confSchema.Validate(doc); err != nil {
		return toSchemaError(err)
	}
	return nil
}

// ValidateMetadata validates metadata against a JSON Schema given as raw bytes.
// An empty schema accepts anything. Compiled schemas are cached by content.
func (v *JSONSchemaValidator) ValidateMetadata(metadata map[string]any, metadataSchema []byte) error {
	if len(metadataSchema) == 0 {
		return nil
	}
	compiled, err := v.getOrCompile(metadataSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid metadata schema").WithCause(err)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	doc, err := toJSONValue(metadata)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize metadata").WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		return toSchemaError(err)
	}
	return nil
}

func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	url := fmt.Sprintf("wfstatus://metadata-schema/%d", len(v.cache))
	c := newCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	v.cache[key] = compiled
	return compiled, nil
}

func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips v through encoding/json so numbers become
// json.Number, which the jsonschema library expects.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toSchemaError flattens a jsonschema.ValidationError into a VALIDATION_ERROR
// whose details list every leaf violation with its instance location.
func toSchemaError(err error) *schema.Error {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	switch len(violations) {
	case 0:
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	case 1:
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
			WithDetails(map[string]any{"violations": violations})
	}
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/" + strings.Join(verr.InstanceLocation, "/")
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var out []string
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}
