package advisor

import (
	"context"
	"sync"
	"time"

	"smartflow/internal/domain"
)

// MemoryConversationStore keeps chat history in process. Used when no
// database is configured.
type MemoryConversationStore struct {
	mu    sync.Mutex
	chats map[int64][]domain.ConversationMessage
	limit int
}

func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{chats: make(map[int64][]domain.ConversationMessage), limit: 200}
}

func (m *MemoryConversationStore) AppendMessage(ctx context.Context, chatID int64, role, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := append(m.chats[chatID], domain.ConversationMessage{Role: role, Content: content, CreatedAt: time.Now().UTC()})
	if len(msgs) > m.limit {
		msgs = msgs[len(msgs)-m.limit:]
	}
	m.chats[chatID] = msgs
	return nil
}

func (m *MemoryConversationStore) RecentMessages(ctx context.Context, chatID int64, limit int) ([]domain.ConversationMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.chats[chatID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]domain.ConversationMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}
