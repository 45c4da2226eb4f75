package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmoran/stepwise/pkg/toolregistry"
)

func testRegistry(t *testing.T) *toolregistry.Registry {
	t.Helper()
	registry := toolregistry.New(testLogger(), time.Second)
	err := registry.Register(toolregistry.Definition{
		Name:        "read_file",
		Description: "Reads a file",
		Parameters: []toolregistry.Parameter{
			{Name: "path", Type: "string", Description: "Relative path", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (string, error) {
			return "contents", nil
		},
	})
	require.NoError(t, err)
	return registry
}

func modelsHandler(w http.ResponseWriter) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"models": []map[string]interface{}{
			{"name": "models/gemini-embedding-001", "supportedGenerationMethods": []string{"embedContent"}},
			{"name": "models/gemini-2.5-flash", "supportedGenerationMethods": []string{"generateContent"}},
			{"name": "models/gemini-2.5-pro", "supportedGenerationMethods": []string{"generateContent"}},
		},
	})
}

func newGeminiTestProvider(t *testing.T, server *httptest.Server, keys []string, preferred []string) *GeminiProvider {
	t.Helper()
	provider, err := NewGeminiProvider(GeminiConfig{
		BaseURL:         server.URL,
		Keys:            keys,
		PreferredModels: preferred,
		Registry:        testRegistry(t),
		Logger:          testLogger(),
	})
	require.NoError(t, err)
	return provider
}

func TestNewGeminiProvider(t *testing.T) {
	t.Run("requires at least one key", func(t *testing.T) {
		_, err := NewGeminiProvider(GeminiConfig{
			BaseURL:  "https://example.com",
			Registry: testRegistry(t),
			Logger:   testLogger(),
		})
		require.Error(t, err)

		var unavailable *ProviderUnavailableError
		assert.ErrorAs(t, err, &unavailable)
	})
}

func TestGeminiResolveModel(t *testing.T) {
	ctx := context.Background()

	t.Run("prefers the configured ranking", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/models", r.URL.Path)
			modelsHandler(w)
		}))
		defer server.Close()

		provider := newGeminiTestProvider(t, server, []string{"key-a"},
			[]string{"models/gemini-2.5-pro", "models/gemini-2.5-flash"})

		require.NoError(t, provider.ResolveModel(ctx))
		assert.Equal(t, "models/gemini-2.5-pro", provider.Model())
	})

	t.Run("falls back to any generateContent model", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			modelsHandler(w)
		}))
		defer server.Close()

		provider := newGeminiTestProvider(t, server, []string{"key-a"},
			[]string{"models/gemini-9.9-ultra"})

		require.NoError(t, provider.ResolveModel(ctx))
		assert.Equal(t, "models/gemini-2.5-flash", provider.Model())
	})

	t.Run("errors when nothing supports generateContent", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{"models": []map[string]interface{}{}})
		}))
		defer server.Close()

		provider := newGeminiTestProvider(t, server, []string{"key-a"}, nil)
		assert.Error(t, provider.ResolveModel(ctx))
	})
}

func TestGeminiQuery(t *testing.T) {
	ctx := context.Background()
	history := SeedHistory("instructions", "do the thing")

	t.Run("returns a native function call", func(t *testing.T) {
		var gotRequest geminiRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/models" {
				modelsHandler(w)
				return
			}
			assert.Equal(t, "/models/gemini-2.5-flash:generateContent", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRequest))

			json.NewEncoder(w).Encode(map[string]interface{}{
				"candidates": []map[string]interface{}{
					{"content": map[string]interface{}{
						"role": "model",
						"parts": []map[string]interface{}{
							{"functionCall": map[string]interface{}{
								"name": "read_file",
								"args": map[string]interface{}{"path": "notes.txt"},
							}},
						},
					}},
				},
			})
		}))
		defer server.Close()

		provider := newGeminiTestProvider(t, server, []string{"key-a"}, []string{"models/gemini-2.5-flash"})

		reply, err := provider.Query(ctx, history, 0)
		require.NoError(t, err)
		require.Equal(t, ReplyToolCall, reply.Kind)
		assert.Equal(t, "read_file", reply.Call.Name)
		assert.Equal(t, "notes.txt", reply.Call.Parameters["path"])

		// Tool catalog and forced function calling ride on every request.
		require.Len(t, gotRequest.Tools, 1)
		assert.Equal(t, "read_file", gotRequest.Tools[0].FunctionDeclarations[0].Name)
		require.NotNil(t, gotRequest.ToolConfig)
		assert.Equal(t, "ANY", gotRequest.ToolConfig.FunctionCallingConfig.Mode)
	})

	t.Run("rotates API keys per query", func(t *testing.T) {
		var keys []string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/models" {
				modelsHandler(w)
				return
			}
			keys = append(keys, r.URL.Query().Get("key"))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"candidates": []map[string]interface{}{
					{"content": map[string]interface{}{
						"parts": []map[string]interface{}{{"text": "ok"}},
					}},
				},
			})
		}))
		defer server.Close()

		provider := newGeminiTestProvider(t, server, []string{"key-a", "key-b"}, []string{"models/gemini-2.5-flash"})

		for i := 0; i < 3; i++ {
			_, err := provider.Query(ctx, history, i)
			require.NoError(t, err)
		}
		assert.Equal(t, []string{"key-a", "key-b", "key-a"}, keys)
	})

	t.Run("HTTP 429 is a quota error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/models" {
				modelsHandler(w)
				return
			}
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]interface{}{
					"code": 429, "status": "RESOURCE_EXHAUSTED", "message": "quota exceeded",
				},
			})
		}))
		defer server.Close()

		provider := newGeminiTestProvider(t, server, []string{"key-a"}, []string{"models/gemini-2.5-flash"})

		_, err := provider.Query(ctx, history, 0)
		require.Error(t, err)
		assert.True(t, IsQuotaExceeded(err))
	})

	t.Run("non-JSON 429 body is still a quota error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/models" {
				modelsHandler(w)
				return
			}
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte("<html>Too Many Requests</html>"))
		}))
		defer server.Close()

		provider := newGeminiTestProvider(t, server, []string{"key-a"}, []string{"models/gemini-2.5-flash"})

		_, err := provider.Query(ctx, history, 0)
		require.Error(t, err)
		assert.True(t, IsQuotaExceeded(err))
	})

	t.Run("other API errors are not quota errors", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/models" {
				modelsHandler(w)
				return
			}
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]interface{}{
					"code": 400, "status": "INVALID_ARGUMENT", "message": "bad request",
				},
			})
		}))
		defer server.Close()

		provider := newGeminiTestProvider(t, server, []string{"key-a"}, []string{"models/gemini-2.5-flash"})

		_, err := provider.Query(ctx, history, 0)
		require.Error(t, err)
		assert.False(t, IsQuotaExceeded(err))
	})

	t.Run("text parts come back as a text reply", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/models" {
				modelsHandler(w)
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"candidates": []map[string]interface{}{
					{"content": map[string]interface{}{
						"parts": []map[string]interface{}{{"text": "the answer"}},
					}},
				},
			})
		}))
		defer server.Close()

		provider := newGeminiTestProvider(t, server, []string{"key-a"}, []string{"models/gemini-2.5-flash"})

		reply, err := provider.Query(ctx, history, 0)
		require.NoError(t, err)
		assert.Equal(t, ReplyText, reply.Kind)
		assert.Equal(t, "the answer", reply.Text)
	})
}

func TestParameterSchema(t *testing.T) {
	schema := parameterSchema([]toolregistry.Parameter{
		{Name: "path", Type: "string", Description: "Relative path", Required: true},
		{Name: "limit", Type: "integer", Description: "Max lines"},
	})

	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []string{"path"}, schema["required"])

	properties := schema["properties"].(map[string]interface{})
	path := properties["path"].(map[string]interface{})
	assert.Equal(t, "string", path["type"])
}
