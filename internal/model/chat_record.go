package model

import (
	"fmt"
	"time"
)

const ChatHistoryCollection = "chat_history"

type MessageType string

const (
	MessageTypeUser MessageType = "user"
	MessageTypeAI   MessageType = "ai"
)

// ChatRecord is one durable chat message. Records are append-only and are
// ordered by Timestamp, not by storage order.
type ChatRecord struct {
	ID             string      `json:"id,omitempty"`
	UserID         string      `json:"user_id"`
	SessionID      string      `json:"session_id"`
	MessageContent string      `json:"message_content"`
	MessageType    MessageType `json:"message_type"`
	Timestamp      time.Time   `json:"timestamp"`
}

func (r ChatRecord) Fields() map[string]any {
	return map[string]any{
		"user_id":         r.UserID,
		"session_id":      r.SessionID,
		"message_content": r.MessageContent,
		"message_type":    string(r.MessageType),
		"timestamp":       r.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

func ChatRecordFromFields(id string, fields map[string]any) (ChatRecord, error) {
	rec := ChatRecord{ID: id}
	var ok bool
	if rec.UserID, ok = fields["user_id"].(string); !ok {
		return ChatRecord{}, fmt.Errorf("chat record %s: missing user_id", id)
	}
	if rec.SessionID, ok = fields["session_id"].(string); !ok {
		return ChatRecord{}, fmt.Errorf("chat record %s: missing session_id", id)
	}
	rec.MessageContent, _ = fields["message_content"].(string)
	msgType, _ := fields["message_type"].(string)
	rec.MessageType = MessageType(msgType)
	if raw, ok := fields["timestamp"].(string); ok {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return ChatRecord{}, fmt.Errorf("chat record %s: bad timestamp: %w", id, err)
		}
		rec.Timestamp = ts
	}
	return rec, nil
}

// SessionHistory is the durable conversation of one session, oldest first.
type SessionHistory struct {
	SessionID string       `json:"session_id"`
	Messages  []ChatRecord `json:"messages"`
}
