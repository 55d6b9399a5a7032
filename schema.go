package pipeline

// InputSchema turns the raw input of a call into the typed, validated input
// of a definition. See the schema package for a JSON Schema implementation.
type InputSchema[In any] interface {
	Validate(raw map[string]any) (In, error)
}

// SchemaFunc is an adapter to allow the use of ordinary functions as input schemas.
//
// Example:
//
//	b.WithSchema(pipeline.SchemaFunc[int](func(raw map[string]any) (int, error) {
//		x, ok := raw["x"].(int)
//		if !ok {
//			return 0, errors.New("x must be an int")
//		}
//		return x, nil
//	}))
type SchemaFunc[In any] func(raw map[string]any) (In, error)

// Validate calls f(raw).
func (f SchemaFunc[In]) Validate(raw map[string]any) (In, error) {
	return f(raw)
}
