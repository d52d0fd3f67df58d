package domain

import "time"

// ConversationMessage is one turn of an operator chat with the advisor.
type ConversationMessage struct {
	Role      string
	Content   string
	CreatedAt time.Time
}
