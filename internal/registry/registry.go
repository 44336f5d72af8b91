// Package registry implements the Tool Registry (spec §4.A): the
// authoritative set of tool specifications available to a thread, indexed
// both by function name (JSON-style calls) and by XML tag (XML-style
// calls).
//
// Tool specifications are built explicitly by callers at startup — there is
// no reflection-based or annotation-driven discovery (Design Notes:
// framework-heavy DI and annotation-driven tool discovery is replaced with an
// explicit builder).
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/loomrun/agentcore/internal/errs"
)

// NodeType identifies where an XML-mapped parameter value is read from.
type NodeType string

const (
	NodeAttribute NodeType = "attribute"
	NodeElement   NodeType = "element"
	NodeText      NodeType = "text"
	NodeContent   NodeType = "content"
)

// ValueType identifies how a raw XML string is coerced into a parameter
// value.
type ValueType string

const (
	ValueString  ValueType = "string"
	ValueInt     ValueType = "int"
	ValueFloat   ValueType = "float"
	ValueBoolean ValueType = "boolean"
	ValueJSON    ValueType = "json"
)

// XMLMapping declares how one XML node maps onto one handler parameter.
type XMLMapping struct {
	// Param is the handler parameter name this mapping populates.
	Param string
	// Node is where the value is read from relative to the tag.
	Node NodeType
	// Path is the child element path for NodeElement (e.g. "./child"); unused
	// otherwise.
	Path string
	// Value is how the raw string is coerced.
	Value ValueType
	// Required marks the parameter as mandatory; missing required parameters
	// short-circuit dispatch with a diagnostic ToolResult instead of invoking
	// the handler (spec §4.B).
	Required bool
}

// Handler is the function signature every registered tool implements. It
// receives already-coerced, schema-validated arguments as raw JSON and
// returns a JSON-serializable payload or an error.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Spec is an immutable tool specification. Specs are built from a plain
// descriptor — no class hierarchy, no base/sandbox-base inheritance (Design
// Notes: inheritance hierarchy of tools is flattened to composition; tools
// needing sandbox access receive a handle via closure over Handler).
type Spec struct {
	// Name is the JSON-calling-convention function name.
	Name string
	// Description is surfaced in the JSON schema and XML example listings
	// used to build the system prompt.
	Description string
	// ParamsSchema is the compiled JSON Schema for this tool's parameters.
	ParamsSchema *jsonschema.Schema
	// RawParamsSchema is the schema document the compiled schema was built
	// from, kept for ListJSONSchemas.
	RawParamsSchema map[string]any
	// XMLTag is the optional XML-calling-convention tag name. Empty means the
	// tool is JSON-only.
	XMLTag string
	// XMLMappings declares parameter mappings when XMLTag is set.
	XMLMappings []XMLMapping
	// Handler executes the tool.
	Handler Handler
}

// Registry holds the set of registered tool specs. Registration is
// serialized with an exclusive lock; lookups read an atomically-swapped
// snapshot and never touch the lock, matching the read-mostly
// shared-resource policy of spec §5.
type Registry struct {
	mu     sync.Mutex // serializes Register only
	byName atomic.Pointer[map[string]*Spec]
	byTag  atomic.Pointer[map[string]*Spec]
}

// New returns an empty Registry.
func New() *Registry {
	r := &Registry{}
	emptyName := make(map[string]*Spec)
	emptyTag := make(map[string]*Spec)
	r.byName.Store(&emptyName)
	r.byTag.Store(&emptyTag)
	return r
}

// Register adds spec to the registry. It fails with a Conflict error if
// either the function name or the XML tag is already registered.
func (r *Registry) Register(spec *Spec) error {
	if spec == nil || spec.Name == "" || spec.Handler == nil {
		return errs.New(errs.InvalidRequest, "tool spec must have a name and handler")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byName := *r.byName.Load()
	if _, dup := byName[spec.Name]; dup {
		return errs.New(errs.Conflict, fmt.Sprintf("tool %q already registered", spec.Name))
	}
	byTag := *r.byTag.Load()
	if spec.XMLTag != "" {
		if _, dup := byTag[spec.XMLTag]; dup {
			return errs.New(errs.Conflict, fmt.Sprintf("xml tag %q already registered", spec.XMLTag))
		}
	}

	next := make(map[string]*Spec, len(byName)+1)
	for k, v := range byName {
		next[k] = v
	}
	next[spec.Name] = spec
	r.byName.Store(&next)

	if spec.XMLTag != "" {
		nextTag := make(map[string]*Spec, len(byTag)+1)
		for k, v := range byTag {
			nextTag[k] = v
		}
		nextTag[spec.XMLTag] = spec
		r.byTag.Store(&nextTag)
	}
	return nil
}

// LookupByName returns the spec registered under the given function name, if
// any.
func (r *Registry) LookupByName(name string) (*Spec, bool) {
	s, ok := (*r.byName.Load())[name]
	return s, ok
}

// LookupByTag returns the spec registered under the given XML tag, if any.
func (r *Registry) LookupByTag(tag string) (*Spec, bool) {
	s, ok := (*r.byTag.Load())[tag]
	return s, ok
}

// JSONSchemaEntry is one entry of ListJSONSchemas, shaped for direct
// embedding into a system prompt's tool listing.
type JSONSchemaEntry struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ListJSONSchemas returns the JSON schema for every registered tool, used to
// build the system prompt's native tool-calling section.
func (r *Registry) ListJSONSchemas() []JSONSchemaEntry {
	m := *r.byName.Load()

	out := make([]JSONSchemaEntry, 0, len(m))
	for _, s := range m {
		out = append(out, JSONSchemaEntry{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  s.RawParamsSchema,
		})
	}
	return out
}

// XMLExample is one entry of ListXMLExamples.
type XMLExample struct {
	Tag         string
	Description string
	Mappings    []XMLMapping
}

// ListXMLExamples returns one example descriptor per XML-enabled tool, used
// to build the system prompt's XML tool-calling section.
func (r *Registry) ListXMLExamples() []XMLExample {
	m := *r.byTag.Load()

	out := make([]XMLExample, 0, len(m))
	for tag, s := range m {
		out = append(out, XMLExample{Tag: tag, Description: s.Description, Mappings: s.XMLMappings})
	}
	return out
}

// CompileSchema compiles a raw JSON Schema document (as a Go map, typically
// decoded from a JSON literal) into a *jsonschema.Schema suitable for
// Spec.ParamsSchema.
func CompileSchema(doc map[string]any) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "marshal schema document", err)
	}
	res, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "decode schema document", err)
	}
	const resourceURL = "mem://tool-schema.json"
	if err := c.AddResource(resourceURL, res); err != nil {
		return nil, errs.Wrap(errs.Internal, "add schema resource", err)
	}
	schema, err := c.Compile(resourceURL)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidRequest, "compile tool schema", err)
	}
	return schema, nil
}
