// Package email defines how the service hands messages to a mail transport.
package email

import (
	"context"

	"go.uber.org/zap"
)

// Message is one email to one recipient.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

// Sender delivers a message or returns an error; it must not report success
// for a message it did not hand off.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log instead of sending them. Used when no
// transport is configured.
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSender{log: log.Named("email")}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.log.Info("email not sent, no transport configured",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("html_bytes", len(msg.HTML)),
		zap.Int("text_bytes", len(msg.Text)))
	return nil
}
