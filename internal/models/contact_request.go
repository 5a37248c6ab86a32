package models

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusRequested Status = "REQUESTED"
	StatusRevealed  Status = "REVEALED"
	StatusConsumed  Status = "CONSUMED"
	StatusDeclined  Status = "DECLINED"
	StatusExpired   Status = "EXPIRED"
)

// ParseStatus accepts the canonical upper-case names only.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusRequested, StatusRevealed, StatusConsumed, StatusDeclined, StatusExpired:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusConsumed || s == StatusDeclined || s == StatusExpired
}

// CanTransition encodes the forward-only lifecycle graph.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusRequested:
		return next == StatusRevealed || next == StatusDeclined || next == StatusExpired
	case StatusRevealed:
		return next == StatusConsumed || next == StatusDeclined || next == StatusExpired
	}
	return false
}

type Channel string

const (
	ChannelInbox Channel = "inbox"
	ChannelEmail Channel = "email"
)

func ParseChannel(s string) (Channel, error) {
	switch ch := Channel(strings.ToLower(strings.TrimSpace(s))); ch {
	case ChannelInbox, ChannelEmail:
		return ch, nil
	}
	return "", fmt.Errorf("unknown channel %q", s)
}

// ResourceKey identifies the job/application pair a request concerns.
type ResourceKey string

const keySeparators = "/:"

func PairKey(jobID, applicationID string) (ResourceKey, error) {
	jobID = strings.TrimSpace(jobID)
	applicationID = strings.TrimSpace(applicationID)
	if jobID == "" || applicationID == "" {
		return "", fmt.Errorf("job id and application id are required")
	}
	// The separators must not appear inside an id or two pairs could render
	// to the same key.
	if strings.ContainsAny(jobID, keySeparators) || strings.ContainsAny(applicationID, keySeparators) {
		return "", fmt.Errorf("job id and application id must not contain %q", keySeparators)
	}
	return ResourceKey("job/" + jobID + ":app/" + applicationID), nil
}

type ContactRequest struct {
	ID           string      `json:"id" db:"id"`
	ResourceKey  ResourceKey `json:"resource_key" db:"resource_key"`
	Status       Status      `json:"status" db:"status"`
	Message      string      `json:"message,omitempty" db:"message"`
	OneTimeToken string      `json:"one_time_token,omitempty" db:"one_time_token"`
	Channel      Channel     `json:"channel,omitempty" db:"channel"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	ExpiresAt    time.Time   `json:"expires_at" db:"expires_at"`
	RevealedAt   *time.Time  `json:"revealed_at,omitempty" db:"revealed_at"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`
}

// RevealedPayload never touches the durable registry.
type RevealedPayload struct {
	RequestID        string    `json:"request_id"`
	Channel          Channel   `json:"channel"`
	EncryptedPayload string    `json:"encrypted_payload"`
	CreatedAt        time.Time `json:"created_at"`
}
