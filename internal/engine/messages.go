package engine

import (
	"context"
	"database/sql"
	"strings"

	"gigledger/internal/apperr"
	"gigledger/internal/domain"
	"gigledger/internal/events"
	"gigledger/internal/ledger"
)

// PreparedMessage is an unsigned MESSAGE submission and the event it carries.
type PreparedMessage struct {
	Unsigned ledger.Envelope     `json:"unsigned"`
	Event    domain.MessageEvent `json:"event"`
}

// PrepareMessage builds a MESSAGE for the gig's message channel, paid by the
// sender. Only the client and the assigned worker may write.
func (e Engine) PrepareMessage(ctx context.Context, ref, senderID, content string) (PreparedMessage, error) {
	if strings.TrimSpace(content) == "" {
		return PreparedMessage{}, apperr.Validation("message content is required")
	}
	if _, err := e.participantGig(ctx, ref, senderID); err != nil {
		return PreparedMessage{}, err
	}
	evt := domain.MessageEvent{
		Type:     domain.EventMessage,
		GigRefID: ref,
		SenderID: senderID,
		Content:  content,
		SentAt:   e.stamp(),
	}
	raw, err := events.Encode(evt)
	if err != nil {
		return PreparedMessage{}, err
	}
	b := e.Builder
	if b.Now == nil {
		b.Now = e.now
	}
	tx, err := b.TopicMessage(senderID, e.Config.Channels.Message, raw)
	if err != nil {
		return PreparedMessage{}, apperr.Validation("%v", err)
	}
	env, err := tx.Envelope()
	if err != nil {
		return PreparedMessage{}, err
	}
	return PreparedMessage{Unsigned: env, Event: evt}, nil
}

// RecordMessage stores a submitted MESSAGE payload under its channel
// sequence number.
func (e Engine) RecordMessage(ctx context.Context, payload []byte, sequence int64) (domain.Message, error) {
	if sequence <= 0 {
		return domain.Message{}, apperr.Validation("sequence number must be positive")
	}
	if len(payload) == 0 {
		return domain.Message{}, apperr.Validation("event payload is required")
	}
	evt, err := events.Decode(payload)
	if err != nil {
		return domain.Message{}, apperr.Validation("%v", err)
	}
	if evt.Type != domain.EventMessage {
		return domain.Message{}, apperr.Validation("expected %s payload, got %s", domain.EventMessage, evt.Type)
	}
	if err := events.ValidateMessage(*evt.Message); err != nil {
		return domain.Message{}, apperr.Validation("%v", err)
	}
	in := *evt.Message
	if _, err := e.participantGig(ctx, in.GigRefID, in.SenderID); err != nil {
		return domain.Message{}, err
	}
	m := domain.Message{
		GigRefID: in.GigRefID,
		SenderID: in.SenderID,
		Content:  in.Content,
		SentAt:   in.SentAt,
		LogSeq:   sequence,
	}
	if m.SentAt == "" {
		m.SentAt = e.stamp()
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		id, err := e.Repo.AppendMessageTx(ctx, tx, m)
		if err != nil {
			return conflict(err, "message %d already recorded", sequence)
		}
		m.ID = id
		return e.Events.Append(ctx, tx, "message.create", "gig", m.GigRefID, m.SenderID, events.Payload{"sequence": sequence})
	})
	if err != nil {
		return domain.Message{}, err
	}
	return m, nil
}

// ListMessages returns the gig's conversation to one of its participants.
func (e Engine) ListMessages(ctx context.Context, ref, callerID string) ([]domain.Message, error) {
	if _, err := e.participantGig(ctx, ref, callerID); err != nil {
		return nil, err
	}
	return e.Repo.ListMessages(ctx, ref)
}

func (e Engine) participantGig(ctx context.Context, ref, accountID string) (domain.Gig, error) {
	if strings.TrimSpace(accountID) == "" {
		return domain.Gig{}, apperr.Validation("sender id is required")
	}
	g, err := e.gig(ctx, nil, ref)
	if err != nil {
		return g, err
	}
	if !g.IsParticipant(accountID) {
		return g, apperr.Authorization("account %s is not a participant of gig %s", accountID, ref).With("gig_ref_id", ref)
	}
	return g, nil
}
