package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v3"

	"smartflow/internal/domain"
	"smartflow/internal/signallog"
)

const recentCount = 5

// SignalReader is the read side of the signal log.
type SignalReader interface {
	SignalStats() signallog.Stats
	FindSignals(f signallog.Filter) []domain.LoggedSignal
}

// Advisor writes briefings and answers questions about the log.
type Advisor interface {
	Brief(ctx context.Context) (string, error)
	Ask(ctx context.Context, chatID int64, question string) (string, error)
}

type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Config struct {
	Token  string
	ChatID int64
}

// Bot answers operator commands and pushes new-signal alerts to one chat.
type Bot struct {
	logger  zerolog.Logger
	signals SignalReader
	advisor Advisor
	chatID  int64
	sender  sender
}

// StartTelegramBot connects and starts polling until ctx is cancelled. It
// returns nil without error when no token is configured.
func StartTelegramBot(ctx context.Context, cfg Config, logger zerolog.Logger, signals SignalReader, advisor Advisor) (*Bot, error) {
	if cfg.Token == "" {
		logger.Info().Msg("TELEGRAM_BOT_TOKEN not set, skipping Telegram bot startup")
		return nil, nil
	}
	tb, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	b := newBot(tb, cfg.ChatID, logger, signals, advisor)
	tb.Handle("/ping", b.handlePing)
	tb.Handle("/stats", b.handleStats)
	tb.Handle("/recent", b.handleRecent)
	tb.Handle("/brief", b.handleBrief)
	tb.Handle("/ask", b.handleAsk)

	go tb.Start()
	go func() {
		<-ctx.Done()
		tb.Stop()
	}()
	logger.Info().Int64("chat_id", cfg.ChatID).Msg("Telegram bot started")
	return b, nil
}

func newBot(s sender, chatID int64, logger zerolog.Logger, signals SignalReader, advisor Advisor) *Bot {
	return &Bot{logger: logger, signals: signals, advisor: advisor, chatID: chatID, sender: s}
}

// NotifySignal pushes an alert for a newly logged signal. A zero chat id
// disables alerts.
func (b *Bot) NotifySignal(ctx context.Context, sig domain.LoggedSignal) error {
	if b.chatID == 0 {
		return nil
	}
	_, err := b.sender.Send(&tele.Chat{ID: b.chatID}, FormatSignalAlert(sig))
	return err
}

func (b *Bot) handlePing(c tele.Context) error {
	return c.Send("pong")
}

func (b *Bot) handleStats(c tele.Context) error {
	return c.Send(FormatStats(b.signals.SignalStats()))
}

func (b *Bot) handleRecent(c tele.Context) error {
	records := b.signals.FindSignals(signallog.Filter{})
	if len(records) > recentCount {
		records = records[len(records)-recentCount:]
	}
	return c.Send(FormatRecent(records))
}

func (b *Bot) handleBrief(c tele.Context) error {
	if b.advisor == nil {
		return c.Send("Advisor is not configured.")
	}
	brief, err := b.advisor.Brief(context.Background())
	if err != nil {
		b.logger.Warn().Err(err).Msg("brief failed")
		return c.Send(fmt.Sprintf("Briefing unavailable: %v", err))
	}
	return c.Send(brief)
}

func (b *Bot) handleAsk(c tele.Context) error {
	if b.advisor == nil {
		return c.Send("Advisor is not configured.")
	}
	question := strings.TrimSpace(strings.Join(c.Args(), " "))
	if question == "" {
		return c.Send("Usage: /ask what is working on base?")
	}
	var chatID int64
	if chat := c.Chat(); chat != nil {
		chatID = chat.ID
	}
	answer, err := b.advisor.Ask(context.Background(), chatID, question)
	if err != nil {
		b.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("ask failed")
		return c.Send(fmt.Sprintf("Advisor unavailable: %v", err))
	}
	return c.Send(answer)
}

func FormatStats(s signallog.Stats) string {
	if s.TotalSignals == 0 {
		return "No signals logged yet."
	}
	return fmt.Sprintf(
		"Signals: %d\nActed on: %d\nSkipped: %d\nWith outcome: %d\nWin rate: %.0f%%\nAvg score: %.2f",
		s.TotalSignals, s.ActedOn, s.Skipped, s.WithOutcome, s.WinRate*100, s.AvgScore,
	)
}

func FormatRecent(records []domain.LoggedSignal) string {
	if len(records) == 0 {
		return "No signals logged yet."
	}
	var sb strings.Builder
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		status := "open"
		if r.Acted && r.Outcome != nil {
			status = string(r.Outcome.Action)
		}
		sb.WriteString(fmt.Sprintf("%s %s %s score=%.1f [%s]\n", r.Chain, displayToken(r.OpportunitySignal), r.Type, r.Score, status))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func FormatSignalAlert(sig domain.LoggedSignal) string {
	msg := fmt.Sprintf("New %s signal\n%s on %s\nScore: %.1f\nID: %s",
		sig.Type, displayToken(sig.OpportunitySignal), sig.Chain, sig.Score, sig.ID)
	if sig.Reason != "" {
		msg += "\n" + sig.Reason
	}
	return msg
}

func displayToken(s domain.OpportunitySignal) string {
	if s.Symbol != "" {
		return s.Symbol
	}
	return s.Token
}
