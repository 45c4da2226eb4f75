package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nmoran/stepwise/pkg/toolregistry"
)

// Wire types for the Gemini generateContent REST API.

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text         string              `json:"text,omitempty"`
	FunctionCall *geminiFunctionCall `json:"functionCall,omitempty"`
}

type geminiFunctionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

type geminiFunctionDeclaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
}

type geminiFunctionCallingConfig struct {
	Mode string `json:"mode"`
}

type geminiToolConfig struct {
	FunctionCallingConfig geminiFunctionCallingConfig `json:"functionCallingConfig"`
}

type geminiRequest struct {
	Contents   []geminiContent   `json:"contents"`
	Tools      []geminiTool      `json:"tools,omitempty"`
	ToolConfig *geminiToolConfig `json:"toolConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
			Role  string       `json:"role"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

type geminiModelsResponse struct {
	Models []struct {
		Name                       string   `json:"name"`
		SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
	} `json:"models"`
}

// GeminiConfig configures the cloud provider.
type GeminiConfig struct {
	BaseURL         string
	Keys            []string
	PreferredModels []string
	Registry        *toolregistry.Registry
	Logger          zerolog.Logger
	HTTPClient      *http.Client
}

// GeminiProvider talks to the Gemini REST API directly. Function
// calling is forced on every request, so replies are normally native
// tool calls. API keys rotate per query to spread free-tier quota.
type GeminiProvider struct {
	baseURL    string
	keys       []string
	preferred  []string
	model      string
	registry   *toolregistry.Registry
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewGeminiProvider creates the provider. At least one API key is
// required.
func NewGeminiProvider(cfg GeminiConfig) (*GeminiProvider, error) {
	if len(cfg.Keys) == 0 {
		return nil, &ProviderUnavailableError{Provider: "gemini", Reason: "no API keys configured"}
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}

	return &GeminiProvider{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		keys:       cfg.Keys,
		preferred:  cfg.PreferredModels,
		registry:   cfg.Registry,
		httpClient: client,
		logger:     cfg.Logger.With().Str("provider", "gemini").Logger(),
	}, nil
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Model returns the resolved model name, empty before the first query.
func (p *GeminiProvider) Model() string {
	return p.model
}

// ResolveModel queries the models endpoint and picks the first
// preferred model that supports generateContent, falling back to any
// capable model the account can see.
func (p *GeminiProvider) ResolveModel(ctx context.Context) error {
	url := fmt.Sprintf("%s/models?key=%s", p.baseURL, p.keys[0])
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to list models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("models endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var list geminiModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return fmt.Errorf("failed to decode models list: %w", err)
	}

	available := make(map[string]bool)
	var fallback string
	for _, model := range list.Models {
		for _, method := range model.SupportedGenerationMethods {
			if method == "generateContent" {
				available[model.Name] = true
				if fallback == "" {
					fallback = model.Name
				}
				break
			}
		}
	}

	for _, name := range p.preferred {
		if available[name] {
			p.model = name
			p.logger.Info().Str("model", name).Msg("Model selected")
			return nil
		}
	}
	if fallback != "" {
		p.model = fallback
		p.logger.Warn().Str("model", fallback).Msg("No preferred model available, using fallback")
		return nil
	}

	return fmt.Errorf("no model supporting generateContent is available")
}

// Query sends the conversation with the full tool catalog attached.
// HTTP 429 and RESOURCE_EXHAUSTED responses surface as
// QuotaExceededError so the loop can hand over to the local provider.
func (p *GeminiProvider) Query(ctx context.Context, history []Turn, queryIndex int) (*Reply, error) {
	if p.model == "" {
		if err := p.ResolveModel(ctx); err != nil {
			return nil, err
		}
	}

	key := p.keys[queryIndex%len(p.keys)]

	request := geminiRequest{
		Contents: contentsFromHistory(history),
		Tools: []geminiTool{
			{FunctionDeclarations: p.declarations()},
		},
		ToolConfig: &geminiToolConfig{
			FunctionCallingConfig: geminiFunctionCallingConfig{Mode: "ANY"},
		},
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	model := p.model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	url := fmt.Sprintf("%s/%s:generateContent?key=%s", p.baseURL, model, key)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call Gemini API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// 429 maps to a quota error regardless of body shape; proxies can
	// serve non-JSON bodies.
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &QuotaExceededError{
			Provider: "gemini",
			Model:    p.model,
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, string(body)),
		}
	}

	var response geminiResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}

	if response.Error != nil && response.Error.Status == "RESOURCE_EXHAUSTED" {
		return nil, &QuotaExceededError{
			Provider: "gemini",
			Model:    p.model,
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, string(body)),
		}
	}
	if response.Error != nil {
		return nil, fmt.Errorf("Gemini API error %d (%s): %s", response.Error.Code, response.Error.Status, response.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Gemini API returned status %d: %s", resp.StatusCode, string(body))
	}

	if len(response.Candidates) == 0 {
		return nil, fmt.Errorf("Gemini API returned no candidates")
	}

	var texts []string
	for _, part := range response.Candidates[0].Content.Parts {
		if part.FunctionCall != nil {
			args := part.FunctionCall.Args
			if args == nil {
				args = map[string]interface{}{}
			}
			return &Reply{
				Kind: ReplyToolCall,
				Call: &ToolCall{Name: part.FunctionCall.Name, Parameters: args},
			}, nil
		}
		if part.Text != "" {
			texts = append(texts, part.Text)
		}
	}

	return &Reply{Kind: ReplyText, Text: strings.Join(texts, "\n")}, nil
}

func (p *GeminiProvider) declarations() []geminiFunctionDeclaration {
	definitions := p.registry.Definitions()
	declarations := make([]geminiFunctionDeclaration, 0, len(definitions))
	for _, def := range definitions {
		declarations = append(declarations, geminiFunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  parameterSchema(def.Parameters),
		})
	}
	return declarations
}

// parameterSchema renders a tool's parameters as a JSON Schema object,
// the shape Gemini function declarations expect.
func parameterSchema(params []toolregistry.Parameter) map[string]interface{} {
	properties := make(map[string]interface{}, len(params))
	var required []string
	for _, param := range params {
		properties[param.Name] = map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func contentsFromHistory(history []Turn) []geminiContent {
	contents := make([]geminiContent, 0, len(history))
	for _, turn := range history {
		parts := make([]geminiPart, 0, len(turn.Parts))
		for _, text := range turn.Parts {
			parts = append(parts, geminiPart{Text: text})
		}
		contents = append(contents, geminiContent{Role: string(turn.Role), Parts: parts})
	}
	return contents
}
