package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/autolog/logsentinel/internal/logger"
)

const maxTrackedCalls = 100

// LLMClient is a model provider usable both as embedder and summarizer.
type LLMClient interface {
	Embedder
	Summarizer
	Provider() string
	CheckLLMHealth(ctx context.Context) error
	GetAvailableModels(ctx context.Context) ([]string, error)
	GetAPICalls() []LLMAPICall
	ClearAPICalls()
}

// LLMAPICall is one tracked request to a model provider.
type LLMAPICall struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Provider  string                 `json:"provider"`
	Endpoint  string                 `json:"endpoint"`
	Model     string                 `json:"model"`
	CallType  string                 `json:"callType"` // "summarize" | "embedding"
	Payload   map[string]interface{} `json:"payload"`
	Status    int                    `json:"status"`
	Duration  time.Duration          `json:"duration"`
	Response  string                 `json:"response"`
	Error     string                 `json:"error,omitempty"`
}

// callTracker keeps the most recent provider calls for the status endpoints.
type callTracker struct {
	callMutex sync.RWMutex
	apiCalls  []LLMAPICall
}

// GetAPICalls returns all tracked LLM API calls
func (t *callTracker) GetAPICalls() []LLMAPICall {
	t.callMutex.RLock()
	defer t.callMutex.RUnlock()

	calls := make([]LLMAPICall, len(t.apiCalls))
	copy(calls, t.apiCalls)
	return calls
}

// ClearAPICalls clears the API call history
func (t *callTracker) ClearAPICalls() {
	t.callMutex.Lock()
	defer t.callMutex.Unlock()
	t.apiCalls = nil
}

func (t *callTracker) addAPICall(call LLMAPICall) {
	t.callMutex.Lock()
	defer t.callMutex.Unlock()

	if len(t.apiCalls) >= maxTrackedCalls {
		t.apiCalls = t.apiCalls[1:]
	}
	t.apiCalls = append(t.apiCalls, call)
}

func (t *callTracker) track(provider, endpoint, model, callType string, payload map[string]interface{}, status int, started time.Time, response string, err error) {
	call := LLMAPICall{
		ID:        "llm_" + uuid.NewString(),
		Timestamp: started,
		Provider:  provider,
		Endpoint:  endpoint,
		Model:     model,
		CallType:  callType,
		Payload:   payload,
		Status:    status,
		Duration:  time.Since(started),
		Response:  response,
	}
	if err != nil {
		call.Error = err.Error()
	}
	t.addAPICall(call)
}

// LLMService talks to a local Ollama server.
type LLMService struct {
	callTracker
	baseURL    string
	llmModel   string
	embedModel string
	client     *http.Client
}

type OllamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Format  interface{}            `json:"format,omitempty"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type OllamaGenerateResponse struct {
	Model     string `json:"model"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	CreatedAt string `json:"created_at"`
}

type OllamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type OllamaEmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

type OllamaModelsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func NewLLMService(ollamaURL, llmModel, embedModel string) *LLMService {
	if ollamaURL == "" {
		ollamaURL = "http://localhost:11434"
	}
	if llmModel == "" {
		llmModel = "llama3.1:8b"
	}
	if embedModel == "" {
		embedModel = "nomic-embed-text"
	}
	return &LLMService{
		baseURL:    ollamaURL,
		llmModel:   llmModel,
		embedModel: embedModel,
		// Per-call deadlines come from ctx; this only caps a hung connection.
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

func (ls *LLMService) Provider() string { return "ollama" }

func (ls *LLMService) EmbeddingModel() string { return ls.embedModel }

// Summarize asks the model for a completion. With a schema, Ollama constrains
// the output to JSON matching it.
func (ls *LLMService) Summarize(ctx context.Context, prompt string, schema map[string]interface{}) (string, error) {
	request := OllamaGenerateRequest{
		Model:  ls.llmModel,
		Prompt: prompt,
		Stream: false,
		Options: map[string]interface{}{
			"temperature": 0.2,
			"top_p":       0.8,
		},
	}
	if schema != nil {
		request.Format = schema
	}

	payload := map[string]interface{}{"prompt_length": len(prompt)}
	var ollamaResp OllamaGenerateResponse
	if err := ls.post(ctx, "/api/generate", ls.llmModel, "summarize", payload, request, &ollamaResp); err != nil {
		return "", err
	}
	return ollamaResp.Response, nil
}

// GenerateEmbedding generates an embedding for the given text using Ollama
func (ls *LLMService) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	request := OllamaEmbeddingRequest{Model: ls.embedModel, Prompt: text}
	payload := map[string]interface{}{"text_length": len(text)}

	var embeddingResp OllamaEmbeddingResponse
	if err := ls.post(ctx, "/api/embeddings", ls.embedModel, "embedding", payload, request, &embeddingResp); err != nil {
		return nil, err
	}
	if len(embeddingResp.Embedding) == 0 {
		return nil, fmt.Errorf("embedding API returned an empty vector")
	}
	return embeddingResp.Embedding, nil
}

func (ls *LLMService) post(ctx context.Context, endpoint, model, callType string, payload map[string]interface{}, request, out interface{}) error {
	started := time.Now()
	log := logger.WithLLM(ls.Provider(), callType)

	jsonData, err := json.Marshal(request)
	if err != nil {
		err = fmt.Errorf("failed to marshal request: %w", err)
		ls.track(ls.Provider(), endpoint, model, callType, payload, 0, started, "", err)
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ls.baseURL+endpoint, bytes.NewReader(jsonData))
	if err != nil {
		ls.track(ls.Provider(), endpoint, model, callType, payload, 0, started, "", err)
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ls.client.Do(req)
	if err != nil {
		log.WithError(err).WithField("elapsed", time.Since(started).String()).Warn("LLM request failed")
		err = fmt.Errorf("HTTP request failed: %w", err)
		ls.track(ls.Provider(), endpoint, model, callType, payload, 0, started, "", err)
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		ls.track(ls.Provider(), endpoint, model, callType, payload, resp.StatusCode, started, "", err)
		return fmt.Errorf("failed to read Ollama response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("Ollama API returned status %d, body: %s", resp.StatusCode, string(body))
		ls.track(ls.Provider(), endpoint, model, callType, payload, resp.StatusCode, started, "", err)
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		err = fmt.Errorf("failed to decode Ollama response: %w", err)
		ls.track(ls.Provider(), endpoint, model, callType, payload, resp.StatusCode, started, "", err)
		return err
	}

	response := ""
	if gen, ok := out.(*OllamaGenerateResponse); ok {
		response = gen.Response
	}
	ls.track(ls.Provider(), endpoint, model, callType, payload, resp.StatusCode, started, response, nil)
	log.WithField("elapsed", time.Since(started).String()).Debug("LLM request completed")
	return nil
}

// CheckLLMHealth verifies if the local LLM is available
func (ls *LLMService) CheckLLMHealth(ctx context.Context) error {
	resp, err := ls.get(ctx, "/api/tags")
	if err != nil {
		return fmt.Errorf("LLM service not available: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("LLM service returned status %d", resp.StatusCode)
	}
	return nil
}

// GetAvailableModels returns the list of available models
func (ls *LLMService) GetAvailableModels(ctx context.Context) ([]string, error) {
	resp, err := ls.get(ctx, "/api/tags")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get models: status %d", resp.StatusCode)
	}

	var modelsResp OllamaModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&modelsResp); err != nil {
		return nil, err
	}

	modelNames := make([]string, 0, len(modelsResp.Models))
	for _, model := range modelsResp.Models {
		modelNames = append(modelNames, model.Name)
	}
	return modelNames, nil
}

func (ls *LLMService) get(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ls.baseURL+endpoint, nil)
	if err != nil {
		return nil, err
	}
	return ls.client.Do(req)
}
