// Package schema validates raw pipeline input against a JSON Schema and
// decodes it into the typed input of a definition.
//
// Example:
//
//	var signupSchema = schema.MustCompile[SignupInput]("signup", []byte(`{
//		"type": "object",
//		"required": ["email"],
//		"properties": {"email": {"type": "string", "minLength": 3}}
//	}`))
//
//	var signup = pipeline.Define[SignupInput, User]("signup").
//		WithSchema(signupSchema).
//		Step("create_user", pipeline.TypedStep(createUser)).
//		Build()
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/tobbstr/pipeline"
)

// Schema is a compiled JSON Schema that produces values of type In.
// It implements pipeline.InputSchema and is safe for concurrent use.
type Schema[In any] struct {
	name     string
	compiled *jsonschema.Schema
}

var _ pipeline.InputSchema[struct{}] = (*Schema[struct{}])(nil)

// Compile compiles a JSON Schema document. The name identifies the schema
// in error messages.
func Compile[In any](name string, src []byte) (*Schema[In], error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse schema %q: %w", name, err)
	}

	c := jsonschema.NewCompiler()
	c.DefaultDraft(jsonschema.Draft2020)
	// Every schema gets its own compiler, so a fixed location cannot clash.
	const loc = "schema.json"
	if err := c.AddResource(loc, doc); err != nil {
		return nil, fmt.Errorf("add schema %q: %w", name, err)
	}
	compiled, err := c.Compile(loc)
	if err != nil {
		return nil, fmt.Errorf("compile schema %q: %w", name, err)
	}

	return &Schema[In]{name: name, compiled: compiled}, nil
}

// MustCompile is like Compile but panics if the schema is invalid.
// It is meant for package-level definitions.
func MustCompile[In any](name string, src []byte) *Schema[In] {
	s, err := Compile[In](name, src)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks raw against the schema and decodes it into an In.
// Struct fields are matched by their json tags.
func (s *Schema[In]) Validate(raw map[string]any) (In, error) {
	var in In

	// Round-trip through JSON so Go numbers and nested structs reach the
	// validator in the shapes it understands.
	buf, err := json.Marshal(raw)
	if err != nil {
		return in, fmt.Errorf("encode input: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(buf))
	if err != nil {
		return in, fmt.Errorf("decode input: %w", err)
	}
	if err := s.compiled.Validate(doc); err != nil {
		return in, err
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  &in,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
		),
	})
	if err != nil {
		return in, fmt.Errorf("schema %q: %w", s.name, err)
	}
	if err := dec.Decode(raw); err != nil {
		return in, fmt.Errorf("decode input: %w", err)
	}
	return in, nil
}
