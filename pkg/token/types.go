// Package token implements the application-level message envelope and
// per-connection lifecycle state machine from spec.md §3 ("Token",
// "Connection state") and §4.E.
package token

import (
	"time"

	"github.com/google/uuid"
)

// Meta carries a Token's addressing and encryption metadata.
type Meta struct {
	ID         string            `json:"id"`
	TokenType  string            `json:"token_type"`
	Timestamp  time.Time         `json:"timestamp"`
	SenderID   string            `json:"sender_id"`
	ReceiverID string            `json:"receiver_id,omitempty"`
	Encrypted  bool              `json:"encrypted"`
	Attributes map[string]string `json:"attributes"`
}

// Token is the unit of application-level message transfer (spec.md §3).
type Token struct {
	Meta    Meta   `json:"meta"`
	Payload []byte `json:"payload"`
}

// New builds an unencrypted Token with a fresh id and current timestamp.
func New(tokenType, senderID, receiverID string, payload []byte) *Token {
	return &Token{
		Meta: Meta{
			ID:         uuid.NewString(),
			TokenType:  tokenType,
			Timestamp:  time.Now(),
			SenderID:   senderID,
			ReceiverID: receiverID,
			Encrypted:  false,
			Attributes: make(map[string]string),
		},
		Payload: payload,
	}
}
