package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-widget/internal/llm"
	"github.com/capitalize-ai/chat-widget/internal/model"
	"github.com/capitalize-ai/chat-widget/internal/tenant"
	"github.com/capitalize-ai/chat-widget/pkg/logger"
	"github.com/capitalize-ai/chat-widget/pkg/metrics"
)

// Fixed replies that never come from the model.
const (
	FillerReply  = "Tell me briefly what I can help you with 🙂"
	ApologyReply = "Sorry, something went wrong on our side. Please try again."
	DeniedReply  = "Not allowed"
)

const (
	maxHistoryTurns = 12
	maxTurnChars    = 1500
	maxOutputTokens = 450
	temperature     = 0.4
	defaultBrand    = "Assistant"
)

// PromptBundler builds system instructions for a tenant.
type PromptBundler interface {
	Bundle(tenantID, demoLink, brandName string) (string, error)
}

// ChatInput is one chat turn as received from the widget.
type ChatInput struct {
	TenantID string
	Key      string
	Message  string
	History  any
}

// ChatService answers chat turns.
type ChatService struct {
	tenants   ConfigResolver
	prompts   PromptBundler
	llmClient llm.Client
	events    EventStore
	publisher Publisher
	tracer    trace.Tracer
	logger    *logger.Logger
	bg        background
}

// NewChatService creates a new chat service. publisher may be nil.
func NewChatService(
	tenants ConfigResolver,
	prompts PromptBundler,
	llmClient llm.Client,
	events EventStore,
	publisher Publisher,
	tracer trace.Tracer,
	log *logger.Logger,
) *ChatService {
	return &ChatService{
		tenants:   tenants,
		prompts:   prompts,
		llmClient: llmClient,
		events:    events,
		publisher: publisher,
		tracer:    tracer,
		logger:    log,
	}
}

// Reply answers one turn. An empty message gets the filler reply without a
// model call. ErrForbidden means the widget key did not match; ErrCompletion
// means the model could not produce an answer.
func (s *ChatService) Reply(ctx context.Context, in ChatInput) (*model.Reply, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		metrics.ChatTurnsTotal.WithLabelValues(in.TenantID, "filler").Inc()
		return &model.Reply{Reply: FillerReply, Action: model.ActionNone, Lead: map[string]any{}}, nil
	}

	cfg, err := s.tenants.Resolve(in.TenantID)
	if err != nil {
		metrics.ChatTurnsTotal.WithLabelValues(in.TenantID, "error").Inc()
		return nil, fmt.Errorf("%w: resolve config: %v", ErrCompletion, err)
	}
	if !tenant.KeyValid(cfg, in.Key) {
		metrics.ChatTurnsTotal.WithLabelValues(in.TenantID, "forbidden").Inc()
		return nil, ErrForbidden
	}

	demoLink := cfg.DemoLink()
	brand := cfg.BrandName()
	if brand == "" {
		brand = defaultBrand
	}

	reply, err := s.complete(ctx, in.TenantID, demoLink, brand, SanitizeHistory(in.History), message)
	if err != nil {
		metrics.ChatTurnsTotal.WithLabelValues(in.TenantID, "error").Inc()
		return nil, err
	}

	if reply.Action.IsFunnel() {
		s.recordEvent(ctx, in.TenantID, model.EventType(reply.Action))
	}

	if reply.Action == model.ActionBookDemo && !strings.Contains(reply.Reply, demoLink) {
		reply.Reply = strings.TrimSpace(strings.TrimSpace(reply.Reply) + "\n\nDemo link: " + demoLink)
	}

	metrics.ChatTurnsTotal.WithLabelValues(in.TenantID, "ok").Inc()
	return &reply, nil
}

// Wait blocks until background event publishing has finished.
func (s *ChatService) Wait() {
	s.bg.Wait()
}

func (s *ChatService) complete(ctx context.Context, tenantID, demoLink, brand string, history []llm.ChatMessage, message string) (model.Reply, error) {
	ctx, span := s.tracer.Start(ctx, "chat.complete", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("llm.provider", s.llmClient.Name()),
		attribute.Int("chat.history_turns", len(history)),
	))
	defer span.End()

	system, err := s.prompts.Bundle(tenantID, demoLink, brand)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "prompt")
		return model.Reply{}, fmt.Errorf("%w: bundle prompt: %v", ErrCompletion, err)
	}

	messages := append(history, llm.ChatMessage{
		Role:    string(model.RoleUser),
		Content: truncate(message, maxTurnChars),
	})

	start := time.Now()
	resp, err := s.llmClient.Complete(ctx, &llm.CompletionRequest{
		System:      system,
		Messages:    messages,
		MaxTokens:   maxOutputTokens,
		Temperature: temperature,
	})
	if err != nil {
		metrics.RecordCompletion(s.llmClient.Model(), "error", time.Since(start).Seconds(), 0, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion")
		return model.Reply{}, fmt.Errorf("%w: %v", ErrCompletion, err)
	}

	metrics.RecordCompletion(resp.Model, "success", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)
	span.SetAttributes(
		attribute.Int("llm.tokens_in", resp.TokensIn),
		attribute.Int("llm.tokens_out", resp.TokensOut),
	)

	reply := ParseModelReply(resp.Content)
	span.SetAttributes(attribute.String("chat.action", string(reply.Action)))
	return reply, nil
}

func (s *ChatService) recordEvent(ctx context.Context, tenantID string, eventType model.EventType) {
	metrics.FunnelEventsTotal.WithLabelValues(tenantID, string(eventType)).Inc()

	event, err := s.events.InsertEvent(ctx, tenantID, eventType)
	if err != nil {
		s.logger.Error("failed to record funnel event",
			zap.String("tenant_id", tenantID),
			zap.String("event", string(eventType)),
			zap.Error(err),
		)
		return
	}

	if s.publisher == nil {
		return
	}
	s.bg.Go(ctx, func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.publisher.PublishEvent(ctx, event); err != nil {
			metrics.RecordSideEffectFailure("nats")
			s.logger.Warn("failed to publish funnel event", zap.Error(err))
		}
	})
}

// ParseModelReply turns raw model output into a reply. It never fails: a
// JSON object with a "reply" key is normalized, anything else becomes the
// reply text as-is.
func ParseModelReply(raw string) model.Reply {
	raw = strings.TrimSpace(raw)

	var obj map[string]any
	if err := json.Unmarshal([]byte(stripFence(raw)), &obj); err == nil && obj != nil {
		if r, ok := obj["reply"]; ok {
			out := model.Reply{
				Reply:  replyText(r),
				Action: model.ActionNone,
				Lead:   map[string]any{},
			}
			if a, ok := obj["action"].(string); ok && a != "" {
				out.Action = model.Action(a)
			}
			if lead, ok := obj["lead"].(map[string]any); ok {
				out.Lead = lead
			}
			return out
		}
	}

	if raw == "" {
		raw = "…"
	}
	return model.Reply{Reply: raw, Action: model.ActionNone, Lead: map[string]any{}}
}

// stripFence removes a Markdown code fence some models wrap JSON in.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	s = strings.TrimPrefix(s, "json")
	return strings.TrimSpace(s)
}

func replyText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// SanitizeHistory keeps the last 12 turns of widget-supplied history and
// drops anything that is not a user or assistant turn with text content.
func SanitizeHistory(history any) []llm.ChatMessage {
	items, ok := history.([]any)
	if !ok {
		return nil
	}
	if len(items) > maxHistoryTurns {
		items = items[len(items)-maxHistoryTurns:]
	}

	out := make([]llm.ChatMessage, 0, len(items))
	for _, item := range items {
		turn, ok := item.(map[string]any)
		if !ok {
			continue
		}
		role, _ := turn["role"].(string)
		if role != string(model.RoleUser) && role != string(model.RoleAssistant) {
			continue
		}
		content, ok := turn["content"].(string)
		if !ok {
			continue
		}
		if content = strings.TrimSpace(content); content != "" {
			out = append(out, llm.ChatMessage{Role: role, Content: truncate(content, maxTurnChars)})
		}
	}
	return out
}

// truncate cuts s to at most n characters without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
