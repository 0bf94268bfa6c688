package relay

import (
	"context"
	"fmt"
	"sort"

	ai "github.com/hidrolabs/aquarelay/pkg/openai"

	"go.uber.org/zap"
)

// ToolFunc executes one tool call. args is the raw JSON argument string from
// the model; the returned string is fed back verbatim as the tool result.
type ToolFunc func(ctx context.Context, args string) (string, error)

// ToolRegistry holds the local tool implementations the relay may execute
// during a tool-call loop.
type ToolRegistry struct {
	logger *zap.Logger
	tools  map[string]registeredTool
}

type registeredTool struct {
	def ai.ToolDefinition
	fn  ToolFunc
}

// NewToolRegistry creates an empty tool registry
func NewToolRegistry(logger *zap.Logger) *ToolRegistry {
	return &ToolRegistry{
		logger: logger.Named("relay.tools"),
		tools:  make(map[string]registeredTool),
	}
}

// Register adds a tool implementation under its definition name.
func (r *ToolRegistry) Register(def ai.ToolDefinition, fn ToolFunc) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("duplicate tool name: %s", def.Name)
	}
	r.tools[def.Name] = registeredTool{def: def, fn: fn}
	return nil
}

// Definitions returns the registered tool definitions in a stable order.
func (r *ToolRegistry) Definitions() []ai.ToolDefinition {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]ai.ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.tools[name].def)
	}
	return defs
}

// Execute runs the named tool. Failures, including unknown tool names, are
// reported as a tool-result string so the loop can continue and the model
// can recover.
func (r *ToolRegistry) Execute(ctx context.Context, name, args string) string {
	tool, ok := r.tools[name]
	if !ok {
		r.logger.Warn("model requested unknown tool", zap.String("tool", name))
		return fmt.Sprintf("error: unknown tool %q", name)
	}

	result, err := tool.fn(ctx, args)
	if err != nil {
		r.logger.Warn("tool execution failed",
			zap.String("tool", name),
			zap.Error(err))
		return fmt.Sprintf("error: %v", err)
	}
	return result
}
