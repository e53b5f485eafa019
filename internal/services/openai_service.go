package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/autolog/logsentinel/internal/logger"
)

const openAISystemPrompt = "You are a site reliability assistant. Answer only with the requested JSON."

// OpenAIService is the hosted alternative to the Ollama provider.
type OpenAIService struct {
	callTracker
	client     *openai.Client
	model      string
	embedModel string
}

// NewOpenAIService builds a client. baseURL is optional and points the client
// at an OpenAI compatible endpoint.
func NewOpenAIService(apiKey, model, embedModel, baseURL string) *OpenAIService {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if embedModel == "" {
		embedModel = string(openai.SmallEmbedding3)
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	logger.WithLLM("openai", "init").WithField("model", model).Info("Initializing OpenAI client")
	return &OpenAIService{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		embedModel: embedModel,
	}
}

func (o *OpenAIService) Provider() string { return "openai" }

func (o *OpenAIService) EmbeddingModel() string { return o.embedModel }

// jsonSchema adapts a generated schema map to the client's json.Marshaler field.
type jsonSchema map[string]interface{}

func (s jsonSchema) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}(s))
}

func (o *OpenAIService) Summarize(ctx context.Context, prompt string, schema map[string]interface{}) (string, error) {
	started := time.Now()
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: openAISystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.2,
	}
	if schema != nil {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "prediction_narrative",
				Schema: jsonSchema(schema),
			},
		}
	}

	payload := map[string]interface{}{"prompt_length": len(prompt)}
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		o.track(o.Provider(), "/chat/completions", o.model, "summarize", payload, statusOf(err), started, "", err)
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		err := fmt.Errorf("OpenAI returned no choices")
		o.track(o.Provider(), "/chat/completions", o.model, "summarize", payload, http.StatusOK, started, "", err)
		return "", err
	}

	content := resp.Choices[0].Message.Content
	o.track(o.Provider(), "/chat/completions", o.model, "summarize", payload, http.StatusOK, started, content, nil)
	logger.WithLLM(o.Provider(), "summarize").WithField("finish_reason", resp.Choices[0].FinishReason).Debug("Received response from OpenAI")
	return content, nil
}

func (o *OpenAIService) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	started := time.Now()
	payload := map[string]interface{}{"text_length": len(text)}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(o.embedModel),
	})
	if err != nil {
		o.track(o.Provider(), "/embeddings", o.embedModel, "embedding", payload, statusOf(err), started, "", err)
		return nil, fmt.Errorf("OpenAI embedding failed: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		err := fmt.Errorf("OpenAI returned no embedding")
		o.track(o.Provider(), "/embeddings", o.embedModel, "embedding", payload, http.StatusOK, started, "", err)
		return nil, err
	}
	o.track(o.Provider(), "/embeddings", o.embedModel, "embedding", payload, http.StatusOK, started, "", nil)
	return resp.Data[0].Embedding, nil
}

func (o *OpenAIService) CheckLLMHealth(ctx context.Context) error {
	if _, err := o.client.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM service not available: %w", err)
	}
	return nil
}

func (o *OpenAIService) GetAvailableModels(ctx context.Context) ([]string, error) {
	list, err := o.client.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		names = append(names, m.ID)
	}
	return names, nil
}

func statusOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	return 0
}
