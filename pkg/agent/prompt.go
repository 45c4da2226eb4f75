package agent

import (
	"fmt"
	"strings"

	"github.com/nmoran/stepwise/pkg/toolregistry"
)

// BuildSystemPrompt renders the instruction block sent at the start of
// every task: behavior rules, the tool catalog, and any memories
// recalled for the prompt.
func BuildSystemPrompt(tools []toolregistry.Definition, memories string) string {
	var b strings.Builder

	b.WriteString("You are an autonomous agent that completes tasks step by step using tools.\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- To use a tool, respond with ONLY a JSON object: {\"tool_name\": \"<name>\", \"parameters\": {...}}\n")
	b.WriteString("- One tool call per step. You will receive the tool result before your next step.\n")
	b.WriteString(fmt.Sprintf("- When the task is complete, call %s with your final answer.\n", ToolFinishTask))
	b.WriteString(fmt.Sprintf("- If you are running out of steps but making progress, call %s.\n", ToolRequestMoreSteps))
	b.WriteString("- Any reply that is not a tool call is treated as your final answer and ends the task.\n\n")

	b.WriteString("Available tools:\n")
	for _, tool := range tools {
		b.WriteString(fmt.Sprintf("- %s: %s\n", tool.Name, tool.Description))
		for _, param := range tool.Parameters {
			required := "optional"
			if param.Required {
				required = "required"
			}
			b.WriteString(fmt.Sprintf("    %s (%s, %s): %s\n", param.Name, param.Type, required, param.Description))
		}
	}

	b.WriteString("\nRelevant memories from previous sessions:\n")
	b.WriteString(memories)
	b.WriteString("\n")

	return b.String()
}

// SeedHistory builds the opening conversation for a task. The system
// prompt rides in the first user turn alongside the task itself, which
// keeps the wire format identical across providers.
func SeedHistory(systemPrompt, task string) []Turn {
	return []Turn{
		{
			Role:  RoleUser,
			Parts: []string{systemPrompt, "Task: " + task},
		},
	}
}
