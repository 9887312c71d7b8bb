package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
)

// Request payloads. Amounts travel as decimal strings.

type ProfileRequest struct {
	AccountID string   `json:"account_id" example:"0.0.1234"`
	Name      string   `json:"name"`
	Skills    []string `json:"skills,omitempty"`
	Portfolio string   `json:"portfolio,omitempty"`
	Email     string   `json:"email,omitempty" format:"email"`
	Role      string   `json:"role" enum:"freelancer,hirer"`
}

// EventRequest carries a canonical event payload returned by a prepare call.
type EventRequest struct {
	Event    map[string]any `json:"event"`
	Sequence int64          `json:"sequence,omitempty" doc:"Channel sequence number reported by the ledger receipt"`
}

type GigRequest struct {
	ClientID    string `json:"client_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Budget      string `json:"budget" example:"100"`
	Currency    string `json:"currency,omitempty" example:"HBAR"`
	Duration    string `json:"duration,omitempty"`
	Visibility  string `json:"visibility,omitempty" enum:"PUBLIC,PRIVATE"`
}

type AssignmentRequest struct {
	ClientID string `json:"client_id"`
	WorkerID string `json:"worker_id"`
}

type RecordAssignmentRequest struct {
	ClientID     string         `json:"client_id"`
	WorkerID     string         `json:"worker_id"`
	SubmissionID string         `json:"submission_id" doc:"Transaction id of the submitted contract deployment"`
	Update       map[string]any `json:"update,omitempty"`
}

type LockRequest struct {
	ClientID string `json:"client_id"`
	Amount   string `json:"amount" example:"100"`
}

type RecordLockRequest struct {
	ClientID     string `json:"client_id"`
	Amount       string `json:"amount" example:"100"`
	SubmissionID string `json:"submission_id"`
}

type ReleaseRequest struct {
	ClientID string `json:"client_id"`
}

type RecordReleaseRequest struct {
	ClientID     string `json:"client_id"`
	SubmissionID string `json:"submission_id"`
}

type ArbiterRequest struct {
	ContractID string `json:"contract_id" example:"0.0.555"`
}

type SubmitRequest struct {
	Signed string `json:"signed" doc:"Base64 signed transaction bytes"`
}

type ApplyRequest struct {
	FreelancerID string `json:"freelancer_id"`
	CoverLetter  string `json:"cover_letter"`
	ProposedRate string `json:"proposed_rate,omitempty"`
}

type InviteRequest struct {
	ClientID     string `json:"client_id"`
	FreelancerID string `json:"freelancer_id"`
	Message      string `json:"message,omitempty"`
}

type ClientActionRequest struct {
	ClientID string `json:"client_id"`
}

type FreelancerActionRequest struct {
	FreelancerID string `json:"freelancer_id"`
}

type ReviewRequest struct {
	ReviewerID string `json:"reviewer_id"`
	Rating     int    `json:"rating" minimum:"1" maximum:"5"`
	Comment    string `json:"comment,omitempty"`
}

type PrepareMessageRequest struct {
	SenderID string `json:"sender_id"`
	Content  string `json:"content"`
}

// Responses

type TransactionResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	TopicSequence int64  `json:"topic_sequence,omitempty"`
	ContractID    string `json:"contract_id,omitempty"`
}

func parseAmount(field, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Decimal{}, newAPIError(http.StatusBadRequest, "validation_error", field+" is required", map[string]any{"field": field})
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, newAPIError(http.StatusBadRequest, "validation_error", field+" must be a decimal number", map[string]any{"field": field, "value": raw})
	}
	return d, nil
}

// rawEvent re-encodes a canonical payload for the record calls.
func rawEvent(field string, evt map[string]any) ([]byte, error) {
	if len(evt) == 0 {
		return nil, newAPIError(http.StatusBadRequest, "validation_error", field+" is required", map[string]any{"field": field})
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		return nil, newAPIError(http.StatusBadRequest, "validation_error", field+" is not valid JSON", map[string]any{"field": field})
	}
	return raw, nil
}
