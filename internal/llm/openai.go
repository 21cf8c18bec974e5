package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"funnel-bot/internal/metrics"
)

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	EmbeddingModel string
	Timeout        time.Duration
}

// OpenAI implements Completer and Embedder over the Chat Completions and Embeddings APIs.
type OpenAI struct {
	client     openai.Client
	chatModel  string
	embedModel string
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewOpenAI builds a client. Calls are attempted once; callers degrade on failure.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger, m *metrics.Metrics) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = openai.ChatModelGPT4oMini
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	return &OpenAI{
		client:     openai.NewClient(opts...),
		chatModel:  cfg.ChatModel,
		embedModel: cfg.EmbeddingModel,
		timeout:    cfg.Timeout,
		logger:     logger.With("component", "llm", "provider", "openai"),
		metrics:    m,
	}
}

// Complete implements Completer.
func (o *OpenAI) Complete(ctx context.Context, req Request) (text string, err error) {
	op := operationOf(req)
	start := time.Now()
	defer func() { observe(o.metrics, op, start, err) }()

	ctx, cancel := withTimeout(ctx, o.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       o.chatModel,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai %s: %w", op, err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text = strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	o.logger.Debug("completion received", "operation", op, "model", o.chatModel, "tokens", resp.Usage.TotalTokens)
	return text, nil
}

// Embed implements Embedder.
func (o *OpenAI) Embed(ctx context.Context, text string) (vec []float32, err error) {
	start := time.Now()
	defer func() { observe(o.metrics, "embed", start, err) }()

	ctx, cancel := withTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(o.embedModel),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrEmptyResponse
	}
	raw := resp.Data[0].Embedding
	vec = make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}
