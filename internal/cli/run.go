package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nmoran/stepwise/internal/config"
	"github.com/nmoran/stepwise/internal/logger"
	"github.com/nmoran/stepwise/pkg/agent"
	"github.com/nmoran/stepwise/pkg/coretools"
	"github.com/nmoran/stepwise/pkg/memory"
	"github.com/nmoran/stepwise/pkg/toolregistry"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an interactive agent session",
	Long: `Start an interactive session. Each line you type becomes a task the
agent works through with its tools. Type "exit" or "quit" to leave;
Ctrl-C aborts the task in progress.`,
	RunE: runSession,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runSession(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    true,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()
	zl := log.GetZerolog()

	if err := os.MkdirAll(cfg.WorkspacePath, 0755); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}

	registry := toolregistry.New(zl, time.Duration(cfg.Tools.TimeoutSeconds)*time.Second)

	// Memory is best effort. A broken store disables the memory tools
	// but never blocks the session.
	var store *memory.Store
	embedder := memory.NewOllamaProvider(cfg.Ollama.Host, cfg.Ollama.EmbeddingModel, cfg.Memory.Dimension)
	store, err = memory.NewStore(memory.Config{
		Dir:       cfg.Memory.Dir,
		Dimension: cfg.Memory.Dimension,
		Logger:    zl,
		Embedder:  embedder,
	})
	if err != nil {
		zl.Warn().Err(err).Msg("Memory store unavailable, continuing without memory")
		store = nil
	} else {
		defer store.Close()
	}

	coreOpts := coretools.Options{
		WorkspaceRoot: cfg.WorkspacePath,
		MemoryTopK:    cfg.Agent.MemoryTopK,
	}
	if store != nil {
		coreOpts.Store = store
	}
	if err := coretools.RegisterCoreTools(registry, coreOpts); err != nil {
		return fmt.Errorf("failed to register core tools: %w", err)
	}

	tools := toolregistry.NewDirLoader(registry, cfg.Tools.Dir, zl)
	if err := tools.Load(); err != nil {
		zl.Warn().Err(err).Msg("Tool discovery failed")
	}
	if err := tools.Watch(); err != nil {
		zl.Warn().Err(err).Msg("Tool directory watch unavailable, edits need a restart")
	}
	defer tools.Close()

	providers, err := buildProviders(cfg, registry, zl)
	if err != nil {
		return err
	}

	var recaller agent.MemoryRecaller
	if store != nil {
		recaller = store
	}
	engine, err := agent.NewEngine(agent.Config{
		MaxSteps:      cfg.Agent.MaxStepsPerTask,
		StepIncrement: cfg.Agent.StepIncrement,
		MemoryTopK:    cfg.Agent.MemoryTopK,
	}, registry, recaller, providers, zl)
	if err != nil {
		return err
	}
	engine.SetHooks(agent.Hooks{
		OnStep: func(step, remaining int) {
			color.Cyan("  step %d (%d remaining)", step, remaining)
		},
		OnToolCall: func(name string, params map[string]interface{}) {
			color.Blue("  -> %s", name)
		},
		OnToolResult: func(name, result string) {
			fmt.Println(indent(truncateForDisplay(result, 500), "     "))
		},
		OnProviderSwitch: func(from, to string) {
			color.Yellow("  %s quota exhausted, switching to %s", from, to)
		},
	})

	// Ctrl-C aborts the running task; a second Ctrl-C at the prompt
	// exits the session.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		for range signals {
			if engine.IsRunning() {
				color.Yellow("\nAborting task...")
				engine.Abort()
			} else {
				fmt.Println()
				os.Exit(0)
			}
		}
	}()

	printBanner(cfg, registry.Count(), store != nil, len(providers))

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print(color.GreenString("you> "))
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		if err := tools.ReloadIfDirty(); err != nil {
			zl.Warn().Err(err).Msg("Tool reload failed")
		}

		outcome, err := engine.RunTask(context.Background(), line)
		if err != nil {
			color.Red("Task failed: %v", err)
			continue
		}
		printOutcome(outcome)
	}

	fmt.Println("Bye.")
	return scanner.Err()
}

// buildProviders assembles the fallback chain: Gemini first when keys
// are configured, then the local Ollama model.
func buildProviders(cfg *config.Config, registry *toolregistry.Registry, zl zerolog.Logger) ([]agent.Provider, error) {
	var providers []agent.Provider

	creds, err := config.LoadCredentials(cfg.Gemini.KeysFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	if creds.HasGeminiKeys() {
		gemini, err := agent.NewGeminiProvider(agent.GeminiConfig{
			BaseURL:         cfg.Gemini.BaseURL,
			Keys:            creds.GeminiAPIKeys,
			PreferredModels: cfg.Gemini.PreferredModels,
			Registry:        registry,
			Logger:          zl,
		})
		if err != nil {
			return nil, err
		}
		providers = append(providers, gemini)
	} else {
		color.Yellow("No Gemini API keys in %s, running local-only.", cfg.Gemini.KeysFile)
	}

	providers = append(providers, agent.NewOllamaProvider(agent.OllamaConfig{
		Host:   cfg.Ollama.Host,
		Model:  cfg.Ollama.Model,
		Logger: zl,
	}))

	return providers, nil
}

func printBanner(cfg *config.Config, toolCount int, memoryEnabled bool, providerCount int) {
	color.Green("stepwise %s", version)
	fmt.Printf("  workspace: %s\n", cfg.WorkspacePath)
	fmt.Printf("  tools:     %d registered\n", toolCount)
	if memoryEnabled {
		fmt.Printf("  memory:    %s\n", cfg.Memory.Dir)
	} else {
		fmt.Println("  memory:    disabled")
	}
	if providerCount > 1 {
		fmt.Println("  providers: gemini -> ollama")
	} else {
		fmt.Println("  providers: ollama")
	}
	fmt.Println(`Type a task and press enter. "exit" leaves the session.`)
	fmt.Println()
}

func printOutcome(outcome *agent.Outcome) {
	switch outcome.Status {
	case agent.StatusFinished:
		color.Green("done (%d steps)", outcome.Steps)
	case agent.StatusStepLimit:
		color.Yellow("step limit reached (%d steps)", outcome.Steps)
	case agent.StatusAborted:
		color.Red("aborted (%d steps)", outcome.Steps)
	}
	if outcome.FinalText != "" {
		fmt.Println(outcome.FinalText)
	}
	fmt.Println()
}

// truncateForDisplay keeps tool output readable at the terminal. The
// full output still reaches the model.
func truncateForDisplay(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}

func indent(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
