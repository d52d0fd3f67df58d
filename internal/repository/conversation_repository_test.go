package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"
)

func newConversationRepo(pool *fakePool) *ConversationRepository {
	return NewConversationRepository(pool, noop.NewTracerProvider().Tracer("test"))
}

func TestConversationRunMigrations(t *testing.T) {
	pool := &fakePool{}
	if err := newConversationRepo(pool).RunMigrations(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(pool.execSQL[0], "CREATE TABLE IF NOT EXISTS conversation_messages") {
		t.Fatalf("unexpected sql: %s", pool.execSQL[0])
	}
}

func TestAppendMessage(t *testing.T) {
	pool := &fakePool{}
	if err := newConversationRepo(pool).AppendMessage(context.Background(), 42, "user", "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	args := pool.execArgs[0]
	if len(args) != 3 || args[0] != int64(42) || args[1] != "user" || args[2] != "hi" {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestRecentMessagesOldestFirst(t *testing.T) {
	newer := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)
	pool := &fakePool{rows: &fakeRows{data: [][]any{
		{"assistant", "second", newer},
		{"user", "first", older},
	}}}

	msgs, err := newConversationRepo(pool).RecentMessages(context.Background(), 42, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "first" || msgs[1].Role != "assistant" {
		t.Fatalf("expected oldest-first order, got %+v", msgs)
	}
	if !msgs[1].CreatedAt.Equal(newer) {
		t.Fatalf("unexpected timestamp: %v", msgs[1].CreatedAt)
	}
}

func TestRecentMessagesQueryError(t *testing.T) {
	pool := &fakePool{queryErr: errors.New("down")}
	if _, err := newConversationRepo(pool).RecentMessages(context.Background(), 1, 10); err == nil {
		t.Fatal("expected error")
	}
}
