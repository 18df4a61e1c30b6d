package email

import (
	"context"
	"fmt"
	"time"
)

// Session stages reported by SessionError.
const (
	StageDial     = "dial"
	StageHello    = "hello"
	StageStartTLS = "starttls"
	StageAuth     = "auth"
	StageEnvelope = "envelope"
	StageData     = "data"
)

// Message is a single outbound HTML mail with exactly one recipient.
type Message struct {
	MessageID string
	From      string
	To        string
	Subject   string
	HTML      string
}

// Receipt is the relay's answer to an accepted or rejected message.
type Receipt struct {
	ID        string
	Code      int
	Body      string
	Timestamp time.Time
}

// Provider delivers a message through a mail backend.
type Provider interface {
	Send(ctx context.Context, msg *Message) (*Receipt, error)
}

// SessionError identifies the step of the mail session that failed.
type SessionError struct {
	Stage string
	Err   error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("smtp provider: %s: %v", e.Stage, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

func stageError(stage string, err error) error {
	return &SessionError{Stage: stage, Err: err}
}
