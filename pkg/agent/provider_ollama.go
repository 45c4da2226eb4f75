package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog"
)

// ModelSelector picks which local model to run a task on when more
// than one is installed.
type ModelSelector interface {
	Select(models []string) (string, error)
}

// FirstModelSelector picks the first installed model.
type FirstModelSelector struct{}

func (FirstModelSelector) Select(models []string) (string, error) {
	if len(models) == 0 {
		return "", fmt.Errorf("no models installed")
	}
	return models[0], nil
}

// OllamaConfig configures the local provider.
type OllamaConfig struct {
	Host     string
	Model    string
	Selector ModelSelector
	Logger   zerolog.Logger
}

// OllamaProvider runs tasks against a local Ollama instance through
// its OpenAI-compatible endpoint. Local models get no function-calling
// surface; JSON object mode plus the reply interpreter covers tool
// calls instead.
type OllamaProvider struct {
	client     openai.Client
	host       string
	model      string
	configured string
	selector   ModelSelector
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewOllamaProvider creates the provider. The model is resolved
// lazily against the instance's installed models on first query.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	selector := cfg.Selector
	if selector == nil {
		selector = FirstModelSelector{}
	}

	return &OllamaProvider{
		client: openai.NewClient(
			option.WithBaseURL(cfg.Host+"/v1"),
			option.WithAPIKey("ollama"),
		),
		host:       cfg.Host,
		configured: cfg.Model,
		selector:   selector,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     cfg.Logger.With().Str("provider", "ollama").Logger(),
	}
}

func (p *OllamaProvider) Name() string {
	return "ollama"
}

// Model returns the resolved model name, empty before the first query.
func (p *OllamaProvider) Model() string {
	return p.model
}

// ListModels returns the names of the models installed on the
// instance.
func (p *OllamaProvider) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.host+"/api/tags", nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderUnavailableError{Provider: "ollama", Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("Ollama tags endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags response: %w", err)
	}

	names := make([]string, 0, len(tags.Models))
	for _, model := range tags.Models {
		names = append(names, model.Name)
	}
	return names, nil
}

// ResolveModel picks the model for this session: the configured model
// when installed, otherwise whatever the selector chooses.
func (p *OllamaProvider) ResolveModel(ctx context.Context) error {
	models, err := p.ListModels(ctx)
	if err != nil {
		return err
	}
	if len(models) == 0 {
		return &ProviderUnavailableError{Provider: "ollama", Reason: "no models installed"}
	}

	if p.configured != "" {
		for _, name := range models {
			if name == p.configured {
				p.model = name
				p.logger.Info().Str("model", name).Msg("Model selected")
				return nil
			}
		}
		p.logger.Warn().Str("model", p.configured).Msg("Configured model not installed")
	}

	chosen, err := p.selector.Select(models)
	if err != nil {
		return err
	}
	p.model = chosen
	p.logger.Info().Str("model", chosen).Msg("Model selected")
	return nil
}

// Query folds the conversation into the OpenAI chat format and asks
// for a JSON object reply. Replies always come back as text; the
// caller's interpreter decides whether they are tool calls.
func (p *OllamaProvider) Query(ctx context.Context, history []Turn, queryIndex int) (*Reply, error) {
	if p.model == "" {
		if err := p.ResolveModel(ctx); err != nil {
			return nil, err
		}
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, turn := range history {
		if turn.Role == RoleModel {
			messages = append(messages, openai.AssistantMessage(turn.Text()))
		} else {
			messages = append(messages, openai.UserMessage(turn.Text()))
		}
	}

	jsonMode := shared.NewResponseFormatJSONObjectParam()
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: messages,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &jsonMode,
		},
	}

	response, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("Ollama chat request failed: %w", err)
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("Ollama returned no choices")
	}

	return &Reply{Kind: ReplyText, Text: response.Choices[0].Message.Content}, nil
}
