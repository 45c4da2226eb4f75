// Package toolregistry holds the named tools an agent can invoke. Tools
// declare their parameters as JSON schema fragments; invocation always
// produces a string result so a failed tool feeds back into the model
// conversation instead of ending the task.
package toolregistry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// Handler is the function signature for tool execution
type Handler func(ctx context.Context, params map[string]interface{}) (string, error)

// Parameter defines a parameter for a tool
type Parameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// Definition defines a tool's metadata and handler
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Handler     Handler     `json:"-"`
}

// DuplicateToolError is returned when registering a name that is taken.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool already registered: %s", e.Name)
}

// ToolNotFoundError is returned by Get for unknown tool names.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Name)
}

// Registry manages and invokes tools
type Registry struct {
	tools   map[string]*Definition
	schemas map[string]*gojsonschema.Schema
	timeout time.Duration
	logger  zerolog.Logger
	mu      sync.RWMutex
}

// New creates a new Registry. The timeout bounds each tool invocation.
func New(logger zerolog.Logger, timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Registry{
		tools:   make(map[string]*Definition),
		schemas: make(map[string]*gojsonschema.Schema),
		timeout: timeout,
		logger:  logger.With().Str("component", "toolregistry").Logger(),
	}
}

// Register registers a new tool. Registering a name that is already
// taken fails with DuplicateToolError.
func (r *Registry) Register(def Definition) error {
	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := compileSchema(def.Parameters)
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return &DuplicateToolError{Name: def.Name}
	}

	r.tools[def.Name] = &def
	r.schemas[def.Name] = schema

	r.logger.Info().Str("tool", def.Name).Msg("Tool registered")

	return nil
}

// Unregister removes a tool
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.tools, name)
	delete(r.schemas, name)

	r.logger.Info().Str("tool", name).Msg("Tool unregistered")
}

// Get returns a tool definition by name
func (r *Registry) Get(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.tools[name]
	if !ok {
		return nil, &ToolNotFoundError{Name: name}
	}
	return def, nil
}

// List returns all registered tool names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Definitions returns all registered definitions sorted by name. Used
// by providers to advertise the tool surface on every model call.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.tools))
	for _, def := range r.tools {
		defs = append(defs, *def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	return defs
}

// Count returns the number of registered tools
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.tools)
}

// Invoke runs a tool and always returns a string result. Unknown tools,
// invalid parameters, handler errors, panics and timeouts all produce
// descriptive strings that go back to the model as the tool result.
func (r *Registry) Invoke(ctx context.Context, name string, params map[string]interface{}) string {
	startTime := time.Now()

	r.mu.RLock()
	tool := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if tool == nil {
		r.logger.Warn().Str("tool", name).Msg("Tool not found")
		return fmt.Sprintf("Error: tool '%s' not found. Available tools: %s",
			name, strings.Join(r.List(), ", "))
	}

	if params == nil {
		params = map[string]interface{}{}
	}

	if err := validateParameters(schema, params); err != nil {
		r.logger.Warn().Str("tool", name).Err(err).Msg("Parameter validation failed")
		return fmt.Sprintf("Error: invalid parameters for tool '%s': %v", name, err)
	}

	r.logger.Debug().Str("tool", name).Msg("Executing tool")

	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resultChan := make(chan string, 1)
	errChan := make(chan error, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				errChan <- fmt.Errorf("tool panicked: %v", rec)
			}
		}()

		result, err := tool.Handler(timeoutCtx, params)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- result
		}
	}()

	select {
	case result := <-resultChan:
		output, truncated := truncateOutput(result)
		r.logger.Debug().
			Str("tool", name).
			Dur("duration", time.Since(startTime)).
			Bool("truncated", truncated).
			Msg("Tool execution completed")
		return output

	case err := <-errChan:
		r.logger.Error().
			Str("tool", name).
			Dur("duration", time.Since(startTime)).
			Err(err).
			Msg("Tool execution failed")
		return fmt.Sprintf("Error executing tool '%s': %v", name, err)

	case <-timeoutCtx.Done():
		r.logger.Error().
			Str("tool", name).
			Dur("duration", time.Since(startTime)).
			Msg("Tool execution timeout")
		return fmt.Sprintf("Error: tool '%s' timed out after %v", name, r.timeout)
	}
}

func validateDefinition(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
	}

	return nil
}

// compileSchema builds a JSON Schema from the declared parameters.
func compileSchema(params []Parameter) (*gojsonschema.Schema, error) {
	properties := make(map[string]interface{})
	required := []string{}

	for _, param := range params {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}

		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}

	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errors := []string{}
		for _, err := range result.Errors() {
			errors = append(errors, err.String())
		}
		return fmt.Errorf("validation errors: %v", errors)
	}

	return nil
}

// truncateOutput truncates output if it exceeds the size limit
func truncateOutput(output string) (string, bool) {
	const maxSize = 10 * 1024 // 10KB

	if len(output) <= maxSize {
		return output, false
	}

	return output[:maxSize] + "\n... [output truncated]", true
}
