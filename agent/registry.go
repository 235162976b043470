package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/martinemde/agentcore/llm"
)

// Invoker executes a function call with its raw JSON arguments and returns
// the result payload fed back to the model.
type Invoker func(ctx context.Context, args json.RawMessage) (string, error)

// Descriptor describes a callable function to the model and to the scheduler.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`

	// RequiresApproval gates the call behind a coordination permission
	// request before it may run.
	RequiresApproval bool `json:"requires_approval,omitempty"`

	// Container marks a group descriptor. Invoking it with no arguments
	// expands its hidden members for the current run.
	Container bool `json:"container,omitempty"`

	// Group names the container a hidden function belongs to.
	Group string `json:"group,omitempty"`

	// Hidden functions are listed only after their container is expanded.
	Hidden bool `json:"hidden,omitempty"`
}

// RegisteredFunction pairs a descriptor with its invoker.
type RegisteredFunction struct {
	Descriptor Descriptor
	Invoke     Invoker
}

// Registry is an explicit name-to-invoker map built at startup. Dispatch is
// statically verifiable; there is no runtime reflection.
type Registry struct {
	functions map[string]*RegisteredFunction
	mu        sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{functions: make(map[string]*RegisteredFunction)}
}

// Register adds a function. Containers need no invoker; everything else does.
func (r *Registry) Register(fn RegisteredFunction) error {
	if fn.Descriptor.Name == "" {
		return fmt.Errorf("function descriptor needs a name")
	}
	if !fn.Descriptor.Container && fn.Invoke == nil {
		return fmt.Errorf("function %q has no invoker", fn.Descriptor.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.functions[fn.Descriptor.Name] = &fn
	return nil
}

// MustRegister is Register that panics on error, for startup wiring.
func (r *Registry) MustRegister(fn RegisteredFunction) {
	if err := r.Register(fn); err != nil {
		panic(err)
	}
}

// Unregister removes a function.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.functions, name)
}

// Get returns a registered function by name.
func (r *Registry) Get(name string) (*RegisteredFunction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.functions[name]
	return fn, ok
}

// Count returns the number of registered functions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.functions)
}

// Members returns the names of the hidden functions grouped under a
// container, sorted for stable corrective messages.
func (r *Registry) Members(container string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name, fn := range r.functions {
		if fn.Descriptor.Group == container {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ListAvailable returns the descriptors visible to the model for this run.
// Hidden functions appear only once their container has been expanded in
// the given TurnContext.
func (r *Registry) ListAvailable(tc *TurnContext) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Descriptor
	for _, fn := range r.functions {
		d := fn.Descriptor
		if d.Hidden && (tc == nil || !tc.IsExpanded(d.Group)) {
			continue
		}
		if d.Container && tc != nil && tc.IsExpanded(d.Name) {
			// Expanded containers drop out of the listing; their
			// members are visible instead.
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ToolDefinitions converts the visible descriptors to the request type the
// model capability consumes.
func (r *Registry) ToolDefinitions(tc *TurnContext) []llm.ToolDefinition {
	descriptors := r.ListAvailable(tc)
	defs := make([]llm.ToolDefinition, len(descriptors))
	for i, d := range descriptors {
		params := d.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		defs[i] = llm.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  params,
		}
	}
	return defs
}

// ExpandContainer reveals a container's members for the rest of the run and
// returns model-consumable text naming them.
func (r *Registry) ExpandContainer(tc *TurnContext, container string) (string, error) {
	fn, ok := r.Get(container)
	if !ok || !fn.Descriptor.Container {
		return "", fmt.Errorf("%q is not a container", container)
	}
	tc.MarkExpanded(container)

	members := r.Members(container)
	if len(members) == 0 {
		return fmt.Sprintf("Container %s has no member functions.", container), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Container %s expanded. The following functions are now available:\n", container)
	r.mu.RLock()
	for _, name := range members {
		if m, ok := r.functions[name]; ok {
			fmt.Fprintf(&sb, "- %s: %s\n", name, m.Descriptor.Description)
		}
	}
	r.mu.RUnlock()
	return sb.String(), nil
}

// ContainerUsageError is the corrective text returned when a container is
// invoked with arguments. It names the member functions so the model can
// call one directly.
func (r *Registry) ContainerUsageError(container string) string {
	members := r.Members(container)
	return fmt.Sprintf(
		"%s is a function container and takes no arguments. Call it with no arguments to expand it, or call one of its member functions directly: %s",
		container, strings.Join(members, ", "))
}

// Argument validation against descriptor JSON Schemas. Compiled schemas are
// cached per schema document.

var schemaCache sync.Map

func compileSchema(params map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	key := string(raw)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString("descriptor.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// ValidateArguments checks a call's arguments against the descriptor's
// parameter schema. Descriptors without a schema accept anything.
func (r *Registry) ValidateArguments(name string, args json.RawMessage) error {
	fn, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	if len(fn.Descriptor.Parameters) == 0 {
		return nil
	}

	schema, err := compileSchema(fn.Descriptor.Parameters)
	if err != nil {
		return fmt.Errorf("compile parameter schema for %s: %w", name, err)
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("arguments for %s are not valid JSON: %w", name, err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("arguments for %s rejected: %w", name, err)
	}
	return nil
}
