package registry

import "github.com/loomrun/agentcore/internal/errs"

// MustCompileSchema is a startup-time helper: it panics on an invalid schema
// document, which is appropriate only for tool specs built from constant
// literals at process init (never from user input).
func MustCompileSchema(doc map[string]any) map[string]any {
	if _, err := CompileSchema(doc); err != nil {
		panic(errs.Wrap(errs.Internal, "invalid built-in tool schema", err))
	}
	return doc
}

// Build constructs a *Spec, compiling RawParamsSchema into ParamsSchema.
// Callers supply the raw schema document once; Build fills in the compiled
// form so dispatch-time validation never has to reparse it.
func Build(name, description string, rawSchema map[string]any, xmlTag string, mappings []XMLMapping, handler Handler) (*Spec, error) {
	schema, err := CompileSchema(rawSchema)
	if err != nil {
		return nil, err
	}
	return &Spec{
		Name:            name,
		Description:     description,
		ParamsSchema:    schema,
		RawParamsSchema: rawSchema,
		XMLTag:          xmlTag,
		XMLMappings:     mappings,
		Handler:         handler,
	}, nil
}
