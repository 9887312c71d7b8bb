package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []Mail
	err  error
}

func (r *recordingSender) Send(ctx context.Context, m Mail) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, m)
	return r.err
}

func TestNotifyDeliversInBackground(t *testing.T) {
	s := &recordingSender{}
	n := New(s, nil)
	n.Notify(GigCompleted("bo@example.com", "Logo", "100 HBAR"))
	n.Notify(Mail{To: "  "})
	n.Wait()
	require.Len(t, s.sent, 1)
	assert.Equal(t, "Payment released: Logo", s.sent[0].Subject)
	assert.Contains(t, s.sent[0].Body, "100 HBAR")
}

func TestNotifySwallowsFailures(t *testing.T) {
	s := &recordingSender{err: errors.New("smtp down")}
	n := New(s, nil)
	n.Notify(GigCancelled("a@example.com", "Logo"))
	n.Wait()
	assert.Len(t, s.sent, 1)

	var disabled *Notifier
	disabled.Notify(Mail{To: "x@example.com"})
	disabled.Wait()
}

func TestCompose(t *testing.T) {
	raw := string(compose("noreply@gigledger.test", Mail{To: "bo@example.com", Subject: "Hi", Body: "text"}))
	assert.Contains(t, raw, "From: noreply@gigledger.test\r\n")
	assert.Contains(t, raw, "Subject: Hi\r\n")
	assert.Contains(t, raw, "\r\n\r\ntext\r\n")

	raw = string(compose("noreply@gigledger.test", Mail{To: "bo@example.com\r\nCc: x@example.com", Subject: "Payment released: Logo\r\nBcc: victim@example.com", Body: "text"}))
	assert.Contains(t, raw, "Subject: Payment released: Logo Bcc: victim@example.com\r\n")
	assert.Contains(t, raw, "To: bo@example.com Cc: x@example.com\r\n")
	assert.NotContains(t, raw, "\r\nBcc:")
	assert.NotContains(t, raw, "\r\nCc:")

	raw = string(compose("noreply@gigledger.test", Mail{To: "bo@example.com", Subject: "Paiement reçu", Body: "text"}))
	assert.Contains(t, raw, "Subject: =?utf-8?q?Paiement_re=C3=A7u?=\r\n")

	err := SMTPSender{}.Send(context.Background(), Mail{To: "x"})
	require.Error(t, err)
}
