// Package tools holds the named capabilities the control loop can dispatch and
// the registry that routes a NextAction to them.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/waypoint/api/schemas"
	"github.com/xkilldash9x/waypoint/internal/humanio"
)

// strictJSON rejects parameter objects carrying fields the tool does not declare.
var strictJSON = json.Config{
	EscapeHTML:             true,
	ValidateJsonRawMessage: true,
	DisallowUnknownFields:  true,
}.Froze()

// Params is implemented by every typed parameter struct.
type Params interface {
	Validate() error
}

// Tool is a named capability the cognition service may select.
type Tool interface {
	Name() string
	Description() string
	// Signature is a short rendering of the parameter object for the catalogue.
	Signature() string
	Execute(ctx context.Context, raw []byte) (any, error)
}

// Spec is the catalogue entry shown to the cognition service.
type Spec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Params      string `json:"params"`
}

// typedTool adapts a function over a concrete params struct to Tool.
type typedTool[P Params] struct {
	name        string
	description string
	signature   string
	run         func(ctx context.Context, p P) (any, error)
}

// Define builds a Tool whose raw params are strictly decoded into P and
// validated before run is called.
func Define[P Params](name, description, signature string, run func(ctx context.Context, p P) (any, error)) Tool {
	return &typedTool[P]{name: name, description: description, signature: signature, run: run}
}

func (t *typedTool[P]) Name() string        { return t.name }
func (t *typedTool[P]) Description() string { return t.description }
func (t *typedTool[P]) Signature() string   { return t.signature }

func (t *typedTool[P]) Execute(ctx context.Context, raw []byte) (any, error) {
	var p P
	if len(raw) > 0 && string(raw) != "null" {
		if err := strictJSON.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return t.run(ctx, p)
}

// Registry maps tool names to tools and dispatches actions.
type Registry struct {
	logger *zap.Logger
	mu     sync.RWMutex
	tools  map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger: logger.Named("tools"),
		tools:  make(map[string]Tool),
	}
}

// Register adds tools. Names must be unique.
func (r *Registry) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		if t.Name() == "" {
			return errors.New("tool name must not be empty")
		}
		if _, exists := r.tools[t.Name()]; exists {
			return fmt.Errorf("tool %q is already registered", t.Name())
		}
		r.tools[t.Name()] = t
	}
	return nil
}

// Lookup returns the tool registered under exactly name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Catalogue lists every registered tool sorted by name.
func (r *Registry) Catalogue() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]Spec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, Spec{Name: t.Name(), Description: t.Description(), Params: t.Signature()})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Dispatch runs the tool named by action. It never returns an error or panics;
// every failure is reported through the ToolResult.
func (r *Registry) Dispatch(ctx context.Context, action schemas.NextAction) (result schemas.ToolResult) {
	tool, ok := r.Lookup(action.Tool)
	if !ok {
		return fail(ErrCodeUnknownTool, fmt.Sprintf("no tool registered with name %q", action.Tool))
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Panic recovered during tool execution",
				zap.String("tool", action.Tool),
				zap.Any("panic_value", rec),
				zap.Stack("stack"),
			)
			result = fail(ErrCodeToolPanic, fmt.Sprintf("tool %s panicked: %v", action.Tool, rec))
		}
	}()

	data, err := tool.Execute(ctx, action.Params)
	if err != nil {
		code := ErrCodeExecutionFailure
		switch {
		case errors.Is(err, ErrInvalidParams):
			code = ErrCodeInvalidParameters
		case errors.Is(err, humanio.ErrDeclined), errors.Is(err, humanio.ErrNoValidAnswer):
			code = ErrCodeOperatorDeclined
		}
		r.logger.Debug("Tool failed", zap.String("tool", action.Tool), zap.String("code", string(code)), zap.Error(err))
		return schemas.ToolResult{Success: false, Data: data, Error: err.Error(), ErrorCode: string(code)}
	}
	return schemas.ToolResult{Success: true, Data: data}
}

func fail(code ErrorCode, message string) schemas.ToolResult {
	return schemas.ToolResult{Success: false, Error: message, ErrorCode: string(code)}
}
