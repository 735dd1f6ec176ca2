// Package notify delivers alert messages. Transports are outside the
// broker; a Notifier only hands the message over.
package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Notifier hands messages to a delivery channel. SendEmail reports whether
// the message was accepted. SendSMS is fire-and-forget.
type Notifier interface {
	SendEmail(ctx context.Context, to, subject, body string) bool
	SendSMS(ctx context.Context, to, text string)
}

// Message is the envelope of one notification.
type Message struct {
	Channel string `json:"channel"`
	From    string `json:"from,omitempty"`
	To      string `json:"to"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// LogNotifier writes every message to the logger and accepts it.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier returns a console notifier for development.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) SendEmail(_ context.Context, to, subject, body string) bool {
	n.log.Info().Str("channel", ChannelEmail).Str("to", to).Str("subject", subject).Msg(body)
	return true
}

func (n *LogNotifier) SendSMS(_ context.Context, to, text string) {
	n.log.Info().Str("channel", ChannelSMS).Str("to", to).Msg(text)
}

// Recorder keeps every message in memory. SetEmailOK controls the result of
// SendEmail.
type Recorder struct {
	mu       sync.Mutex
	emailOK  bool
	messages []Message
}

// NewRecorder returns a Recorder that accepts email.
func NewRecorder() *Recorder {
	return &Recorder{emailOK: true}
}

func (r *Recorder) SendEmail(_ context.Context, to, subject, body string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Channel: ChannelEmail, To: to, Subject: subject, Body: body})
	return r.emailOK
}

func (r *Recorder) SendSMS(_ context.Context, to, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Channel: ChannelSMS, To: to, Body: text})
}

// SetEmailOK changes the result of subsequent SendEmail calls.
func (r *Recorder) SetEmailOK(ok bool) {
	r.mu.Lock()
	r.emailOK = ok
	r.mu.Unlock()
}

// Messages returns a copy of the recorded messages, optionally narrowed to
// one channel.
func (r *Recorder) Messages(channel string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.messages {
		if channel == "" || m.Channel == channel {
			out = append(out, m)
		}
	}
	return out
}
