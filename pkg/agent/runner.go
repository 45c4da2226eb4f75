package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/nmoran/stepwise/pkg/memory"
	"github.com/nmoran/stepwise/pkg/toolregistry"
)

// Config holds the engine's step budget settings.
type Config struct {
	// MaxSteps is the tool-call budget a task starts with.
	MaxSteps int
	// StepIncrement is how many steps a request_more_steps call adds.
	StepIncrement int
	// MemoryTopK is how many memories are recalled into the prompt.
	MemoryTopK int
}

// MemoryRecaller is the slice of the memory store the engine needs.
type MemoryRecaller interface {
	Retrieve(ctx context.Context, query string, k int) (string, error)
}

// Hooks lets a frontend observe the loop as it runs. All fields are
// optional.
type Hooks struct {
	OnStep           func(step, remaining int)
	OnToolCall       func(name string, params map[string]interface{})
	OnToolResult     func(name, result string)
	OnProviderSwitch func(from, to string)
}

// Engine drives tasks through the step loop. It runs one task at a
// time; a second submission while a task is active is rejected.
type Engine struct {
	registry  *toolregistry.Registry
	recaller  MemoryRecaller
	providers []Provider
	cfg       Config
	hooks     Hooks
	logger    zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// NewEngine creates an engine. Providers are tried in order; when one
// runs out of quota the loop moves to the next for the rest of the
// task. The recaller may be nil when memory is disabled.
func NewEngine(cfg Config, registry *toolregistry.Registry, recaller MemoryRecaller, providers []Provider, logger zerolog.Logger) (*Engine, error) {
	if registry == nil {
		return nil, errors.New("tool registry is required")
	}
	if len(providers) == 0 {
		return nil, errors.New("at least one provider is required")
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 10
	}
	if cfg.StepIncrement <= 0 {
		cfg.StepIncrement = 10
	}
	if cfg.MemoryTopK <= 0 {
		cfg.MemoryTopK = 3
	}

	return &Engine{
		registry:  registry,
		recaller:  recaller,
		providers: providers,
		cfg:       cfg,
		logger:    logger.With().Str("component", "engine").Logger(),
	}, nil
}

// SetHooks installs loop observers. Call before RunTask.
func (e *Engine) SetHooks(hooks Hooks) {
	e.hooks = hooks
}

// IsRunning reports whether a task is currently active.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Abort cancels the active task, if any. The task ends with
// StatusAborted at the next step boundary.
func (e *Engine) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

// RunTask executes one task to a terminal state. The returned outcome
// is valid even on error.
func (e *Engine) RunTask(ctx context.Context, prompt string) (*Outcome, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrTaskInProgress
	}
	ctx, cancel := context.WithCancel(ctx)
	e.running = true
	e.cancel = cancel
	e.mu.Unlock()

	defer func() {
		cancel()
		e.mu.Lock()
		e.running = false
		e.cancel = nil
		e.mu.Unlock()
	}()

	taskID, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate task ID: %w", err)
	}
	logger := e.logger.With().Str("task_id", taskID).Logger()
	logger.Info().Str("prompt", prompt).Msg("Task started")

	memories := memory.NoMemoriesSentinel
	if e.recaller != nil {
		recalled, err := e.recaller.Retrieve(ctx, prompt, e.cfg.MemoryTopK)
		if err != nil {
			logger.Warn().Err(err).Msg("Memory recall failed")
		} else {
			memories = recalled
		}
	}

	systemPrompt := BuildSystemPrompt(e.registry.Definitions(), memories)
	history := SeedHistory(systemPrompt, prompt)

	remaining := e.cfg.MaxSteps
	steps := 0
	queryIndex := 0
	active := 0

	for remaining > 0 {
		select {
		case <-ctx.Done():
			logger.Info().Int("steps", steps).Msg("Task aborted")
			return &Outcome{TaskID: taskID, Status: StatusAborted, FinalText: "Task aborted.", Steps: steps}, nil
		default:
		}

		if e.hooks.OnStep != nil {
			e.hooks.OnStep(steps+1, remaining)
		}

		provider := e.providers[active]
		reply, err := provider.Query(ctx, history, queryIndex)
		queryIndex++
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Info().Int("steps", steps).Msg("Task aborted")
				return &Outcome{TaskID: taskID, Status: StatusAborted, FinalText: "Task aborted.", Steps: steps}, nil
			}
			if IsQuotaExceeded(err) && active+1 < len(e.providers) {
				next := e.providers[active+1]
				logger.Warn().Err(err).Str("from", provider.Name()).Str("to", next.Name()).Msg("Quota exhausted, switching provider")
				if e.hooks.OnProviderSwitch != nil {
					e.hooks.OnProviderSwitch(provider.Name(), next.Name())
				}
				active++
				continue
			}
			logger.Error().Err(err).Msg("Provider query failed")
			return &Outcome{TaskID: taskID, Status: StatusAborted, Steps: steps}, err
		}

		call := reply.Call
		if reply.Kind == ReplyText {
			extracted, ok := ExtractToolCall(reply.Text, logger)
			if !ok {
				logger.Info().Int("steps", steps).Msg("Task finished with a text answer")
				return &Outcome{TaskID: taskID, Status: StatusFinished, FinalText: reply.Text, Steps: steps}, nil
			}
			call = extracted
		}

		switch call.Name {
		case ToolFinishTask:
			final := stringParam(call.Parameters, "final_answer")
			if final == "" {
				final = "Task completed."
			}
			logger.Info().Int("steps", steps).Msg("Task finished")
			return &Outcome{TaskID: taskID, Status: StatusFinished, FinalText: final, Steps: steps}, nil

		case ToolRequestMoreSteps:
			remaining += e.cfg.StepIncrement
			logger.Info().Int("remaining", remaining).Msg("Step budget extended")
			history = appendExchange(history, call,
				fmt.Sprintf("Granted %d additional steps. You have %d steps remaining.", e.cfg.StepIncrement, remaining))
			continue

		default:
			if e.hooks.OnToolCall != nil {
				e.hooks.OnToolCall(call.Name, call.Parameters)
			}
			result := e.registry.Invoke(ctx, call.Name, call.Parameters)
			if e.hooks.OnToolResult != nil {
				e.hooks.OnToolResult(call.Name, result)
			}
			history = appendExchange(history, call, "Tool result:\n"+result)
			remaining--
			steps++
		}
	}

	logger.Warn().Int("steps", steps).Msg("Step limit reached")
	return &Outcome{
		TaskID:    taskID,
		Status:    StatusStepLimit,
		FinalText: "Step limit reached before the task finished.",
		Steps:     steps,
	}, nil
}

// appendExchange records a tool call and its result as a model/user
// turn pair. The call is echoed back as JSON so both provider dialects
// see the same conversation.
func appendExchange(history []Turn, call *ToolCall, result string) []Turn {
	callJSON, err := json.Marshal(call)
	if err != nil {
		callJSON = []byte(fmt.Sprintf(`{"tool_name": %q}`, call.Name))
	}
	return append(history,
		Turn{Role: RoleModel, Parts: []string{string(callJSON)}},
		Turn{Role: RoleUser, Parts: []string{result}},
	)
}

func stringParam(params map[string]interface{}, key string) string {
	if params == nil {
		return ""
	}
	if value, ok := params[key].(string); ok {
		return value
	}
	return ""
}
