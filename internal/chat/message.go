package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxAuthorLen bounds the author field after trimming.
	MaxAuthorLen = 30
	// MaxBodyLen bounds the body field after trimming.
	MaxBodyLen = 500
)

// ErrStoreUnavailable reports that the backing store failed its liveness
// probe. It is transient and client-retryable; the server never retries.
var ErrStoreUnavailable = errors.New("message store unreachable")

// ValidationError rejects a malformed inbound message. It is client-caused
// and reported to the sender only.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Message is a single chat message as persisted and broadcast. The store
// assigns ID and CreatedAt exactly once; a message is never mutated after.
type Message struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// ValidateContent trims author and body and checks the field bounds.
// It returns the trimmed values so callers persist exactly what passed
// validation.
func ValidateContent(author, body string) (string, string, error) {
	author = strings.TrimSpace(author)
	body = strings.TrimSpace(body)

	if author == "" {
		return "", "", &ValidationError{Field: "author", Reason: "required"}
	}
	// Bounds count characters, not bytes: "João" is four characters.
	if utf8.RuneCountInString(author) > MaxAuthorLen {
		return "", "", &ValidationError{Field: "author", Reason: fmt.Sprintf("longer than %d characters", MaxAuthorLen)}
	}
	if body == "" {
		return "", "", &ValidationError{Field: "body", Reason: "required"}
	}
	if utf8.RuneCountInString(body) > MaxBodyLen {
		return "", "", &ValidationError{Field: "body", Reason: fmt.Sprintf("longer than %d characters", MaxBodyLen)}
	}
	return author, body, nil
}

// FanUser mirrors the gamification schema kept alongside messages. No core
// operation reads or writes it yet; it is reserved for fury-point features.
type FanUser struct {
	Username     string    `json:"username"`
	FuryPoints   int       `json:"furyPoints"`
	LastActivity time.Time `json:"lastActivity"`
}
