package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient is the OpenAI LLM client.
type OpenAIClient struct {
	client     *openai.Client
	model      string
	timeout    time.Duration
	maxRetries int
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(opts Options) (*OpenAIClient, error) {
	if opts.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	model := opts.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	return &OpenAIClient{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
	}, nil
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Model returns the default model.
func (c *OpenAIClient) Model() string {
	return c.model
}

// Complete sends a completion request. Rate-limit, server and transport
// errors are retried up to maxRetries times; other API errors are not.
func (c *OpenAIClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.model
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	// Convert messages to OpenAI format, instructions first
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	call := func() (openai.ChatCompletionResponse, error) {
		attemptCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		resp, err := c.client.CreateChatCompletion(attemptCtx, openai.ChatCompletionRequest{
			Model:       model,
			Messages:    messages,
			MaxTokens:   maxTokens,
			Temperature: float32(req.Temperature),
		})
		if err != nil && !retryable(err) {
			return resp, backoff.Permanent(err)
		}
		return resp, err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(250*time.Millisecond), uint64(c.maxRetries)), ctx)
	resp, err := backoff.RetryWithData(call, b)
	if err != nil {
		return nil, err
	}

	var content, stopReason string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
		stopReason = string(resp.Choices[0].FinishReason)
	}

	return &CompletionResponse{
		Content:    content,
		Model:      resp.Model,
		TokensIn:   resp.Usage.PromptTokens,
		TokensOut:  resp.Usage.CompletionTokens,
		StopReason: stopReason,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	return !errors.Is(err, context.Canceled)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
