// Package agent runs the task execution loop. A task is a user prompt
// driven through a step-budgeted conversation with a model provider:
// each step the model either calls a registered tool, asks for more
// steps, or answers in free text, which ends the task. Cloud providers
// that run out of quota hand over to a local fallback mid-task.
package agent
