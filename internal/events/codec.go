package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gigledger/internal/domain"
)

// ErrMalformed marks a channel message that cannot be decoded into a known
// event. Replay skips such messages.
var ErrMalformed = errors.New("malformed event")

// Decoded is one decoded channel message. Exactly one of the typed fields is set.
type Decoded struct {
	Type          string
	ProfileCreate *domain.ProfileCreateEvent
	GigCreate     *domain.GigCreateEvent
	GigUpdate     *domain.GigUpdateEvent
	Message       *domain.MessageEvent
}

type envelope struct {
	Type string `json:"type"`
}

// Decode parses a raw channel message.
func Decode(raw []byte) (Decoded, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Decoded{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	out := Decoded{Type: env.Type}
	switch env.Type {
	case domain.EventProfileCreate:
		var evt domain.ProfileCreateEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			return Decoded{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if err := ValidateProfileCreate(evt); err != nil {
			return Decoded{}, err
		}
		out.ProfileCreate = &evt
	case domain.EventGigCreate:
		var evt domain.GigCreateEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			return Decoded{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if err := ValidateGigCreate(evt); err != nil {
			return Decoded{}, err
		}
		out.GigCreate = &evt
	case domain.EventGigUpdate:
		var evt domain.GigUpdateEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			return Decoded{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if strings.TrimSpace(evt.GigRefID) == "" {
			return Decoded{}, fmt.Errorf("%w: gigRefId missing", ErrMalformed)
		}
		if evt.Status != nil && !evt.Status.Valid() {
			return Decoded{}, fmt.Errorf("%w: unknown status %q", ErrMalformed, *evt.Status)
		}
		if evt.EscrowStatus != nil && !evt.EscrowStatus.Valid() {
			return Decoded{}, fmt.Errorf("%w: unknown escrow status %q", ErrMalformed, *evt.EscrowStatus)
		}
		out.GigUpdate = &evt
	case domain.EventMessage:
		var evt domain.MessageEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			return Decoded{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if err := ValidateMessage(evt); err != nil {
			return Decoded{}, err
		}
		out.Message = &evt
	default:
		return Decoded{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, env.Type)
	}
	return out, nil
}

func ValidateProfileCreate(evt domain.ProfileCreateEvent) error {
	if strings.TrimSpace(evt.AccountID) == "" {
		return fmt.Errorf("%w: accountId missing", ErrMalformed)
	}
	if strings.TrimSpace(evt.Name) == "" {
		return fmt.Errorf("%w: name missing", ErrMalformed)
	}
	if !evt.Role.Valid() {
		return fmt.Errorf("%w: role %q", ErrMalformed, evt.Role)
	}
	return nil
}

func ValidateGigCreate(evt domain.GigCreateEvent) error {
	if strings.TrimSpace(evt.GigRefID) == "" {
		return fmt.Errorf("%w: gigRefId missing", ErrMalformed)
	}
	if strings.TrimSpace(evt.ClientID) == "" {
		return fmt.Errorf("%w: clientId missing", ErrMalformed)
	}
	if strings.TrimSpace(evt.Title) == "" {
		return fmt.Errorf("%w: title missing", ErrMalformed)
	}
	if evt.Visibility != "" && !evt.Visibility.Valid() {
		return fmt.Errorf("%w: visibility %q", ErrMalformed, evt.Visibility)
	}
	return nil
}

// ValidateTitle rejects titles that cannot travel in a mail header. Replay
// does not apply it, so titles already on the log still materialize.
func ValidateTitle(title string) error {
	if strings.ContainsAny(title, "\r\n") {
		return fmt.Errorf("%w: title must be a single line", ErrMalformed)
	}
	return nil
}

func ValidateMessage(evt domain.MessageEvent) error {
	if strings.TrimSpace(evt.GigRefID) == "" || strings.TrimSpace(evt.SenderID) == "" {
		return fmt.Errorf("%w: gigRefId and senderId required", ErrMalformed)
	}
	return nil
}

// Encode marshals a canonical event payload for submission to a channel.
func Encode(evt any) ([]byte, error) {
	return json.Marshal(evt)
}
