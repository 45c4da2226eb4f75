package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

var fencedJSONRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ExtractToolCall recovers a tool call from free text. Local models
// cannot emit structured calls, so they are asked to answer with a
// JSON object carrying tool_name and parameters, often wrapped in a
// markdown fence. Precedence is fenced block, then the raw text.
// Anything that does not parse into a named tool call is left as free
// text; a malformed call is never fatal.
func ExtractToolCall(text string, logger zerolog.Logger) (*ToolCall, bool) {
	candidate := strings.TrimSpace(text)
	if match := fencedJSONRegex.FindStringSubmatch(candidate); match != nil {
		candidate = match[1]
	}

	if !strings.HasPrefix(candidate, "{") {
		return nil, false
	}

	var raw struct {
		Name       string          `json:"tool_name"`
		Parameters json.RawMessage `json:"parameters"`
	}
	if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
		logger.Debug().Err(err).Msg("Reply looked like JSON but did not parse, treating as text")
		return nil, false
	}
	if raw.Name == "" {
		logger.Debug().Msg("JSON reply has no tool_name, treating as text")
		return nil, false
	}

	// parameters that are missing or not an object become an empty map;
	// only tool_name decides whether this is a call.
	params := map[string]interface{}{}
	if len(raw.Parameters) > 0 {
		if err := json.Unmarshal(raw.Parameters, &params); err != nil {
			logger.Debug().Str("tool", raw.Name).Msg("Parameters are not an object, defaulting to empty")
			params = map[string]interface{}{}
		}
	}

	return &ToolCall{Name: raw.Name, Parameters: params}, true
}
