// Package coretools registers the built-in tools every task starts
// with: workspace file access, shell execution, the clock, memory
// access, and the control tools the loop intercepts itself.
package coretools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/nmoran/stepwise/pkg/agent"
	"github.com/nmoran/stepwise/pkg/toolregistry"
)

const defaultReadLimit = 200000

// MemoryStore is the slice of the memory store the memory tools need.
type MemoryStore interface {
	Save(ctx context.Context, text string, metadata map[string]string) (string, error)
	Retrieve(ctx context.Context, query string, k int) (string, error)
}

// Options configures core tool registration.
type Options struct {
	// WorkspaceRoot is the directory file and shell tools are confined
	// to.
	WorkspaceRoot string
	// Store enables save_memory and recall_memory when set.
	Store MemoryStore
	// MemoryTopK is how many memories recall_memory returns.
	MemoryTopK int
}

// RegisterCoreTools registers the baseline tool set.
func RegisterCoreTools(registry *toolregistry.Registry, opts Options) error {
	if registry == nil {
		return errors.New("tool registry is required")
	}
	if strings.TrimSpace(opts.WorkspaceRoot) == "" {
		return errors.New("workspace root is required")
	}
	if opts.MemoryTopK <= 0 {
		opts.MemoryTopK = 3
	}

	tools := []toolregistry.Definition{
		readFileTool(opts),
		writeFileTool(opts),
		runShellCommandTool(opts),
		datetimeTool(),
		returnTextTool(),
		finishTaskTool(),
		requestMoreStepsTool(),
	}
	if opts.Store != nil {
		tools = append(tools, saveMemoryTool(opts), recallMemoryTool(opts))
	}

	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

func readFileTool(opts Options) toolregistry.Definition {
	return toolregistry.Definition{
		Name:        "read_file",
		Description: "Read a text file from the workspace.",
		Parameters: []toolregistry.Parameter{
			{Name: "path", Type: "string", Description: "File path relative to the workspace", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (string, error) {
			pathValue, _ := params["path"].(string)
			target, err := resolvePathInWorkspace(opts.WorkspaceRoot, pathValue)
			if err != nil {
				return "", err
			}

			data, truncated, err := readFileWithLimit(target, defaultReadLimit)
			if err != nil {
				return "", err
			}
			if truncated {
				return string(data) + "\n... [file truncated]", nil
			}
			return string(data), nil
		},
	}
}

func writeFileTool(opts Options) toolregistry.Definition {
	return toolregistry.Definition{
		Name:        "write_file",
		Description: "Write content to a file in the workspace, creating parent directories as needed.",
		Parameters: []toolregistry.Parameter{
			{Name: "path", Type: "string", Description: "File path relative to the workspace", Required: true},
			{Name: "content", Type: "string", Description: "Content to write", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (string, error) {
			pathValue, _ := params["path"].(string)
			target, err := resolvePathInWorkspace(opts.WorkspaceRoot, pathValue)
			if err != nil {
				return "", err
			}
			content, _ := params["content"].(string)

			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return "", err
			}
			if err := os.WriteFile(target, []byte(content), 0644); err != nil {
				return "", err
			}

			return fmt.Sprintf("Wrote %d bytes to %s", len(content), pathValue), nil
		},
	}
}

func runShellCommandTool(opts Options) toolregistry.Definition {
	return toolregistry.Definition{
		Name:        "run_shell_command",
		Description: "Run a shell command in the workspace and return its output.",
		Parameters: []toolregistry.Parameter{
			{Name: "command", Type: "string", Description: "Command line to execute", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (string, error) {
			command, _ := params["command"].(string)
			command = strings.TrimSpace(command)
			if command == "" {
				return "", errors.New("command is required")
			}

			cmd := exec.CommandContext(ctx, "sh", "-c", command)
			cmd.Dir = opts.WorkspaceRoot

			output, err := cmd.CombinedOutput()
			result := strings.TrimSpace(string(output))

			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				if result == "" {
					return fmt.Sprintf("Command exited with code %d", exitErr.ExitCode()), nil
				}
				return fmt.Sprintf("%s\nCommand exited with code %d", result, exitErr.ExitCode()), nil
			}
			if err != nil {
				return "", err
			}
			if result == "" {
				return "Command completed with no output", nil
			}
			return result, nil
		},
	}
}

func datetimeTool() toolregistry.Definition {
	return toolregistry.Definition{
		Name:        "get_current_datetime",
		Description: "Get the current date and time.",
		Handler: func(ctx context.Context, params map[string]interface{}) (string, error) {
			return time.Now().Format(time.RFC3339), nil
		},
	}
}

func returnTextTool() toolregistry.Definition {
	return toolregistry.Definition{
		Name:        "return_text",
		Description: "Return a block of text to the conversation unchanged.",
		Parameters: []toolregistry.Parameter{
			{Name: "text", Type: "string", Description: "Text to return", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (string, error) {
			text, _ := params["text"].(string)
			return text, nil
		},
	}
}

// finishTaskTool and requestMoreStepsTool exist so the control tools
// show up in the catalog with proper schemas. The loop intercepts both
// by name before they reach the registry.

func finishTaskTool() toolregistry.Definition {
	return toolregistry.Definition{
		Name:        agent.ToolFinishTask,
		Description: "Finish the task and deliver the final answer to the user.",
		Parameters: []toolregistry.Parameter{
			{Name: "final_answer", Type: "string", Description: "The final answer", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (string, error) {
			return "Task finished.", nil
		},
	}
}

func requestMoreStepsTool() toolregistry.Definition {
	return toolregistry.Definition{
		Name:        agent.ToolRequestMoreSteps,
		Description: "Request additional steps when the task needs more work than the current budget allows.",
		Parameters: []toolregistry.Parameter{
			{Name: "reason", Type: "string", Description: "Why more steps are needed"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (string, error) {
			return "More steps granted.", nil
		},
	}
}

func saveMemoryTool(opts Options) toolregistry.Definition {
	return toolregistry.Definition{
		Name:        "save_memory",
		Description: "Save a fact to long-term memory for future sessions.",
		Parameters: []toolregistry.Parameter{
			{Name: "content", Type: "string", Description: "The fact to remember", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (string, error) {
			content, _ := params["content"].(string)
			return opts.Store.Save(ctx, content, map[string]string{"source": "save_memory"})
		},
	}
}

func recallMemoryTool(opts Options) toolregistry.Definition {
	return toolregistry.Definition{
		Name:        "recall_memory",
		Description: "Search long-term memory for facts related to a query.",
		Parameters: []toolregistry.Parameter{
			{Name: "query", Type: "string", Description: "What to look for", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (string, error) {
			query, _ := params["query"].(string)
			return opts.Store.Retrieve(ctx, query, opts.MemoryTopK)
		},
	}
}

// resolvePathInWorkspace joins a relative path onto the workspace root
// and rejects anything that escapes it.
func resolvePathInWorkspace(workspaceRoot, pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", errors.New("path is required")
	}
	if strings.Contains(pathValue, "://") {
		return "", errors.New("path must be a local file")
	}

	candidate := pathValue
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(workspaceRoot, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(workspaceRoot, candidate)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the workspace", pathValue)
	}
	return candidate, nil
}

func readFileWithLimit(path string, limit int64) ([]byte, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer file.Close()

	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, file, limit); err != nil && !errors.Is(err, io.EOF) {
		return nil, false, err
	}

	extra := make([]byte, 1)
	truncated := false
	if _, err := file.Read(extra); err == nil {
		truncated = true
	}
	return buf.Bytes(), truncated, nil
}
