package domain

import "time"

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Session is a persisted, append-only list of dispatched messages.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Title     string    `json:"title"`
	Tags      []string  `json:"tags"`
	Messages  []Message `json:"messages,omitempty"`
}

// Message is one entry in a session. Frozen once written.
type Message struct {
	ID               string       `json:"id"`
	SessionID        string       `json:"session_id"`
	Seq              int          `json:"seq"`
	Role             Role         `json:"role"`
	Content          string       `json:"content"`
	ModelID          string       `json:"model_id"`
	Category         Category     `json:"category,omitempty"`
	Status           ResultStatus `json:"status,omitempty"`
	Error            string       `json:"error,omitempty"`
	TokensPrompt     int          `json:"tokens_prompt"`
	TokensCompletion int          `json:"tokens_completion"`
	DurationMs       int64        `json:"duration_ms"`
	CreatedAt        time.Time    `json:"created_at"`
}

// AssistantMessage builds the message recording an execution result.
func AssistantMessage(res ExecutionResult, category Category) Message {
	return Message{
		Role:             RoleAssistant,
		Content:          res.Text,
		ModelID:          res.ModelID,
		Category:         category,
		Status:           res.Status,
		Error:            res.Error,
		TokensPrompt:     res.PromptTokens,
		TokensCompletion: res.CompletionTokens,
		DurationMs:       res.Duration.Milliseconds(),
	}
}

// SessionSummary is a listing row.
type SessionSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Tags         []string  `json:"tags"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
	LastActivity time.Time `json:"last_activity"`
}

// SearchHit is a message matched by a content search.
type SearchHit struct {
	SessionID    string    `json:"session_id"`
	SessionTitle string    `json:"session_title"`
	MessageID    string    `json:"message_id"`
	Seq          int       `json:"seq"`
	Role         Role      `json:"role"`
	ModelID      string    `json:"model_id"`
	Snippet      string    `json:"snippet"`
	CreatedAt    time.Time `json:"created_at"`
}
