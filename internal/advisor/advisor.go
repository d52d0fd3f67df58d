package advisor

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"smartflow/internal/domain"
	"smartflow/internal/signallog"
)

const briefRequest = "Write the operator briefing for the signal log above."

// LLMClient abstracts the OpenAI chat completions API for testability.
type LLMClient interface {
	CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// SignalQuerier provides signal log data for the advisor's context.
type SignalQuerier interface {
	SignalStats() signallog.Stats
	FindSignals(f signallog.Filter) []domain.LoggedSignal
	TokenHistory(token, chain string) []domain.LoggedSignal
}

// ConversationStore persists and retrieves conversation messages.
type ConversationStore interface {
	AppendMessage(ctx context.Context, chatID int64, role, content string) error
	RecentMessages(ctx context.Context, chatID int64, limit int) ([]domain.ConversationMessage, error)
}

type AdvisorService struct {
	tracer     trace.Tracer
	logger     zerolog.Logger
	llm        LLMClient
	signals    SignalQuerier
	convStore  ConversationStore
	model      string
	maxHistory int
	maxSignals int
}

func NewAdvisorService(
	tracer trace.Tracer,
	logger zerolog.Logger,
	llm LLMClient,
	signals SignalQuerier,
	convStore ConversationStore,
	model string,
	maxHistory int,
	maxSignals int,
) *AdvisorService {
	if maxHistory <= 0 {
		maxHistory = 20
	}
	if maxSignals <= 0 {
		maxSignals = 25
	}
	if convStore == nil {
		convStore = NewMemoryConversationStore()
	}
	return &AdvisorService{
		tracer:     tracer,
		logger:     logger,
		llm:        llm,
		signals:    signals,
		convStore:  convStore,
		model:      model,
		maxHistory: maxHistory,
		maxSignals: maxSignals,
	}
}

// Brief interprets the log's statistics and most recent records. It never
// creates or scores signals.
func (s *AdvisorService) Brief(ctx context.Context) (string, error) {
	ctx, span := s.tracer.Start(ctx, "advisor.brief")
	defer span.End()

	systemPrompt := BuildSystemPrompt(s.gatherContext(ctx, nil))
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(briefRequest),
	}

	reply, err := s.callLLM(ctx, messages)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("advisor unavailable: %w", err)
	}
	return reply, nil
}

// Ask answers an operator question in the context of the signal log and the
// chat's recent history.
func (s *AdvisorService) Ask(ctx context.Context, chatID int64, userMessage string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "advisor.ask")
	defer span.End()
	span.SetAttributes(attribute.Int64("chat_id", chatID))

	if err := s.convStore.AppendMessage(ctx, chatID, "user", userMessage); err != nil {
		s.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("failed to store user message")
	}

	systemPrompt := BuildSystemPrompt(s.gatherContext(ctx, ExtractTokens(userMessage)))

	history, err := s.convStore.RecentMessages(ctx, chatID, s.maxHistory)
	if err != nil {
		s.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("failed to load conversation history")
		history = nil
	}
	if len(history) == 0 {
		history = []domain.ConversationMessage{{Role: "user", Content: userMessage}}
	}

	reply, err := s.callLLM(ctx, s.buildMessages(systemPrompt, history))
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("advisor unavailable: %w", err)
	}

	if err := s.convStore.AppendMessage(ctx, chatID, "assistant", reply); err != nil {
		s.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("failed to store assistant reply")
	}
	return reply, nil
}

func (s *AdvisorService) gatherContext(ctx context.Context, tokens []string) string {
	_, span := s.tracer.Start(ctx, "advisor.gather-context")
	defer span.End()

	if s.signals == nil {
		return FormatSignalContext(nil, nil)
	}

	stats := s.signals.SignalStats()
	var records []domain.LoggedSignal
	if len(tokens) > 0 {
		for _, tok := range tokens {
			records = append(records, s.signals.TokenHistory(tok, "")...)
		}
	} else {
		records = s.signals.FindSignals(signallog.Filter{})
	}
	if len(records) > s.maxSignals {
		records = records[len(records)-s.maxSignals:]
	}
	span.SetAttributes(attribute.Int("signals", len(records)))
	return FormatSignalContext(&stats, records)
}

func (s *AdvisorService) buildMessages(
	systemPrompt string,
	history []domain.ConversationMessage,
) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	messages = append(messages, openai.SystemMessage(systemPrompt))

	for _, msg := range history {
		switch msg.Role {
		case "user":
			messages = append(messages, openai.UserMessage(msg.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(msg.Content))
		}
	}
	return messages
}

func (s *AdvisorService) callLLM(
	ctx context.Context,
	messages []openai.ChatCompletionMessageParamUnion,
) (string, error) {
	ctx, span := s.tracer.Start(ctx, "advisor.llm-call")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", s.model),
		attribute.Int("llm.message_count", len(messages)),
	)

	if s.llm == nil {
		return "", fmt.Errorf("no LLM client configured")
	}
	completion, err := s.llm.CreateChatCompletion(ctx, openai.ChatCompletionNewParams{
		Model:    s.model,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("no choices in LLM response")
	}

	reply := completion.Choices[0].Message.Content
	span.SetAttributes(attribute.Int("llm.reply_length", len(reply)))
	return reply, nil
}

// openaiClient wraps the official SDK's chat completions service.
type openaiClient struct {
	client openai.Client
}

func NewOpenAIClient(apiKey string) LLMClient {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &openaiClient{client: client}
}

func (c *openaiClient) CreateChatCompletion(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
) (*openai.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params)
}
