package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/rs/zerolog"
)

type fakePublisher struct {
	err  error
	keys []string
	msgs []Message
}

func (p *fakePublisher) PublishJSON(_ context.Context, key string, v any) error {
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, key)
	p.msgs = append(p.msgs, v.(Message))
	return nil
}

func TestQueueNotifierRoutesByChannel(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	pub := &fakePublisher{}
	n := NewQueueNotifier(pub, "alerts@example.com")

	c.Assert(n.SendEmail(ctx, "a@example.com", "New slot", "body"), qt.IsTrue)
	n.SendSMS(ctx, "+491701234567", "New slot")

	c.Assert(pub.keys, qt.DeepEquals, []string{"notify.email", "notify.sms"})
	c.Assert(pub.msgs[0], qt.Equals, Message{
		Channel: ChannelEmail, From: "alerts@example.com", To: "a@example.com", Subject: "New slot", Body: "body",
	})
	c.Assert(pub.msgs[1].To, qt.Equals, "+491701234567")
}

func TestQueueNotifierReportsFailedEmail(t *testing.T) {
	c := qt.New(t)
	n := NewQueueNotifier(&fakePublisher{err: errors.New("channel closed")}, "")
	c.Assert(n.SendEmail(context.Background(), "a@example.com", "s", "b"), qt.IsFalse)
}

func TestLogNotifier(t *testing.T) {
	c := qt.New(t)
	var buf bytes.Buffer
	n := NewLogNotifier(zerolog.New(&buf))

	c.Assert(n.SendEmail(context.Background(), "a@example.com", "Hello", "text"), qt.IsTrue)
	c.Assert(buf.String(), qt.Contains, `"channel":"email"`)
	c.Assert(buf.String(), qt.Contains, `"subject":"Hello"`)
}

func TestRecorder(t *testing.T) {
	c := qt.New(t)
	r := NewRecorder()
	r.SetEmailOK(false)
	c.Assert(r.SendEmail(context.Background(), "a@example.com", "s", "b"), qt.IsFalse)
	r.SendSMS(context.Background(), "+49", "t")
	c.Assert(r.Messages(""), qt.HasLen, 2)
	c.Assert(r.Messages(ChannelSMS), qt.HasLen, 1)
}
