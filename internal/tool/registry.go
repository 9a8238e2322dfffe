package tool

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vinayprograms/agentkit/logging"
)

// Registry holds all registered tools. Registration happens during system
// initialization, before any workflow runs; lookups are safe to share
// across agents without locking.
type Registry struct {
	tools  map[string]*Definition
	logger *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:  make(map[string]*Definition),
		logger: logging.New().WithComponent("toolregistry"),
	}
}

// Register adds a tool definition. Names are unique; re-registering a name
// fails with DuplicateToolError.
func (r *Registry) Register(def *Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Body == nil {
		return fmt.Errorf("tool %s has no body", def.Name)
	}
	if _, exists := r.tools[def.Name]; exists {
		return &DuplicateToolError{Name: def.Name}
	}
	r.tools[def.Name] = def
	r.logger.Debug("tool registered", map[string]interface{}{
		"tool":     def.Name,
		"category": string(def.Category),
		"risk":     def.Risk.String(),
	})
	return nil
}

// Get returns the definition for name.
func (r *Registry) Get(name string) (*Definition, error) {
	def, ok := r.tools[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return def, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Filter selects tools in Find. Nil/empty fields match everything.
type Filter struct {
	Category Category
	MaxRisk  *RiskLevel
	// Capabilities the caller holds. When set, only tools whose required
	// capability set is a subset are returned.
	Capabilities []string
}

// Find returns the definitions matching the filter, ordered by name.
func (r *Registry) Find(f Filter) []*Definition {
	caps := make(map[string]bool, len(f.Capabilities))
	for _, c := range f.Capabilities {
		caps[c] = true
	}

	var out []*Definition
	for _, def := range r.tools {
		if f.Category != "" && def.Category != f.Category {
			continue
		}
		if f.MaxRisk != nil && def.Risk > *f.MaxRisk {
			continue
		}
		if f.Capabilities != nil && !hasAllCapabilities(def.Capabilities, caps) {
			continue
		}
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func hasAllCapabilities(required []string, held map[string]bool) bool {
	for _, c := range required {
		if !held[c] {
			return false
		}
	}
	return true
}

// Execute validates params against the tool schema and invokes the body,
// enforcing the tool's max duration. The body is not assumed to be
// interruptible; on timeout it keeps running in the background while the
// caller gets a TimeoutError.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any, ec *ExecContext) (map[string]any, error) {
	def, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if err := validateParams(def, params); err != nil {
		return nil, err
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if def.MaxDuration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, def.MaxDuration)
		defer cancel()
	}

	type outcome struct {
		result map[string]any
		err    error
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		result, err := def.Body(runCtx, params, ec)
		done <- outcome{result, err}
	}()

	select {
	case o := <-done:
		r.logger.Debug("tool executed", map[string]interface{}{
			"tool":        name,
			"duration_ms": time.Since(start).Milliseconds(),
			"ok":          o.err == nil,
		})
		if o.err != nil {
			return nil, &ExecutionError{Tool: name, Err: o.err}
		}
		return o.result, nil
	case <-runCtx.Done():
		if def.MaxDuration > 0 && runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			r.logger.Warn("tool timed out", map[string]interface{}{
				"tool":  name,
				"limit": def.MaxDuration.String(),
			})
			return nil, &TimeoutError{Tool: name, Limit: def.MaxDuration}
		}
		return nil, runCtx.Err()
	}
}

// validateParams checks params against the definition's parameter schema.
// Unknown parameters are rejected so that a malformed plan fails fast.
func validateParams(def *Definition, params map[string]any) error {
	for name := range params {
		if _, ok := def.Parameters[name]; !ok {
			return &ValidationError{Tool: def.Name, Param: name, Reason: "unknown parameter"}
		}
	}
	for name, spec := range def.Parameters {
		val, present := params[name]
		if !present {
			if spec.Required {
				return &ValidationError{Tool: def.Name, Param: name, Reason: "required parameter missing"}
			}
			continue
		}
		if err := checkType(val, spec.Type); err != nil {
			return &ValidationError{Tool: def.Name, Param: name, Reason: err.Error()}
		}
		if len(spec.Enum) > 0 {
			s, _ := val.(string)
			if !contains(spec.Enum, s) {
				return &ValidationError{Tool: def.Name, Param: name, Reason: fmt.Sprintf("value %q not in %v", s, spec.Enum)}
			}
		}
	}
	return nil
}

func checkType(val any, typ string) error {
	switch typ {
	case "string":
		if _, ok := val.(string); !ok {
			return fmt.Errorf("expected string, got %T", val)
		}
	case "boolean":
		if _, ok := val.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", val)
		}
	case "number", "integer":
		switch val.(type) {
		case int, int64, float64:
		default:
			return fmt.Errorf("expected %s, got %T", typ, val)
		}
	case "object":
		if _, ok := val.(map[string]any); !ok {
			return fmt.Errorf("expected object, got %T", val)
		}
	case "array":
		if _, ok := val.([]any); !ok {
			return fmt.Errorf("expected array, got %T", val)
		}
	case "":
		// untyped parameters accept anything
	default:
		return fmt.Errorf("unknown schema type %q", typ)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
