package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator is a compiled JSON schema, safe for concurrent use.
type Validator struct {
	id       string
	compiled *jsonschema.Schema
}

// Violation is one failed constraint, addressed by the JSON field it concerns.
type Violation struct {
	// Field is the top-level property name, or "" for the document itself.
	Field   string
	Message string
}

// Compile parses a schema document once for repeated validation.
func Compile(id string, schema []byte) (*Validator, error) {
	if len(schema) == 0 {
		return nil, fmt.Errorf("schema is empty")
	}
	resourceID := schemaID(id)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceID, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceID)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{id: id, compiled: compiled}, nil
}

// MustCompile is Compile for schemas embedded in the binary.
func MustCompile(id string, schema []byte) *Validator {
	v, err := Compile(id, schema)
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks value against the schema.
func (v *Validator) Validate(value any) error {
	payload, err := normalizeValue(value)
	if err != nil {
		return fmt.Errorf("normalize payload: %w", err)
	}
	if err := v.compiled.Validate(payload); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// Violations flattens a validation error into its leaf failures, sorted by
// field. Errors that are not schema failures yield nil.
func Violations(err error) []Violation {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return nil
	}
	var out []Violation
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, Violation{Field: topLevelField(e), Message: e.Message})
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(verr)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

// topLevelField resolves which property a failure is about. A missing
// required property is reported against the parent object, so the name is
// recovered from the message.
func topLevelField(e *jsonschema.ValidationError) string {
	loc := strings.TrimPrefix(e.InstanceLocation, "/")
	if loc != "" {
		if i := strings.IndexByte(loc, '/'); i >= 0 {
			loc = loc[:i]
		}
		return loc
	}
	if strings.HasSuffix(e.KeywordLocation, "/required") {
		if start := strings.IndexByte(e.Message, '\''); start >= 0 {
			if end := strings.IndexByte(e.Message[start+1:], '\''); end >= 0 {
				return e.Message[start+1 : start+1+end]
			}
		}
	}
	return ""
}

func normalizeValue(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return decodeJSON(v)
	case []byte:
		return decodeJSON(v)
	default:
		return value, nil
	}
}

func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}

func schemaID(id string) string {
	if id == "" {
		id = "schema"
	}
	return "inmemory://" + id
}
