package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleFreelancer Role = "freelancer"
	RoleHirer      Role = "hirer"
)

func (r Role) Valid() bool { return r == RoleFreelancer || r == RoleHirer }

type Visibility string

const (
	VisibilityPublic  Visibility = "PUBLIC"
	VisibilityPrivate Visibility = "PRIVATE"
)

func (v Visibility) Valid() bool { return v == VisibilityPublic || v == VisibilityPrivate }

// GigStatus is the lifecycle status of a gig.
type GigStatus string

const (
	GigOpen               GigStatus = "OPEN"
	GigInProgress         GigStatus = "IN_PROGRESS"
	GigCompleted          GigStatus = "COMPLETED"
	GigCancelledByArbiter GigStatus = "CANCELLED_BY_ARBITER"
	GigCompletedByArbiter GigStatus = "COMPLETED_BY_ARBITER"
)

func (s GigStatus) Valid() bool {
	switch s {
	case GigOpen, GigInProgress, GigCompleted, GigCancelledByArbiter, GigCompletedByArbiter:
		return true
	}
	return false
}

// Terminal reports whether no further lifecycle transition is defined.
func (s GigStatus) Terminal() bool {
	return s == GigCompleted || s == GigCancelledByArbiter || s == GigCompletedByArbiter
}

// Reviewable reports whether reviews may be left for a gig in this status.
func (s GigStatus) Reviewable() bool {
	return s == GigCompleted || s == GigCompletedByArbiter
}

// CanTransition reports whether a gig may move from s to next.
func (s GigStatus) CanTransition(next GigStatus) bool {
	switch s {
	case GigOpen:
		return next == GigInProgress
	case GigInProgress:
		return next == GigCompleted || next == GigCompletedByArbiter || next == GigCancelledByArbiter
	}
	return false
}

// EscrowStatus tracks the escrow contract paired with a gig.
type EscrowStatus string

const (
	EscrowOpen       EscrowStatus = "OPEN"
	EscrowInProgress EscrowStatus = "IN_PROGRESS"
	EscrowLocked     EscrowStatus = "LOCKED"
	EscrowReleased   EscrowStatus = "RELEASED"
	EscrowCancelled  EscrowStatus = "CANCELLED"
)

func (s EscrowStatus) Valid() bool {
	switch s {
	case EscrowOpen, EscrowInProgress, EscrowLocked, EscrowReleased, EscrowCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the escrow may move from s to next.
func (s EscrowStatus) CanTransition(next EscrowStatus) bool {
	switch s {
	case EscrowOpen:
		return next == EscrowInProgress
	case EscrowInProgress:
		return next == EscrowLocked || next == EscrowReleased || next == EscrowCancelled
	case EscrowLocked:
		return next == EscrowReleased || next == EscrowCancelled
	}
	return false
}

// ProposalStatus is shared by applications and invitations.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "PENDING"
	ProposalAccepted ProposalStatus = "ACCEPTED"
	ProposalRejected ProposalStatus = "REJECTED"
)

type ReviewType string

const (
	ReviewClientToFreelancer ReviewType = "CLIENT_TO_FREELANCER"
	ReviewFreelancerToClient ReviewType = "FREELANCER_TO_CLIENT"
)

// Budget is an amount in a currency unit.
type Budget struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func (b Budget) Validate() error {
	if !b.Amount.IsPositive() {
		return fmt.Errorf("budget amount must be positive")
	}
	if strings.TrimSpace(b.Currency) == "" {
		return fmt.Errorf("budget currency is required")
	}
	return nil
}

// XPValue is the reputation credited when a gig with this budget is released.
func (b Budget) XPValue() int64 {
	return b.Amount.IntPart()
}

func (b Budget) String() string {
	return b.Amount.String() + " " + b.Currency
}

// UnmarshalJSON accepts the structured form as well as the formatted
// "<amount> <unit>" string and bare numbers found in older log events.
func (b *Budget) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		return nil
	case len(data) > 0 && data[0] == '"':
		var formatted string
		if err := json.Unmarshal(data, &formatted); err != nil {
			return err
		}
		parsed, err := ParseBudget(formatted)
		if err != nil {
			return err
		}
		*b = parsed
		return nil
	case len(data) > 0 && data[0] != '{':
		amount, err := decimal.NewFromString(string(data))
		if err != nil {
			return fmt.Errorf("budget: %w", err)
		}
		*b = Budget{Amount: amount}
		return nil
	}
	type plain Budget
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*b = Budget(p)
	return nil
}

// ParseBudget reads a formatted budget such as "100 HBAR" or "12.5".
func ParseBudget(s string) (Budget, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 || len(fields) > 2 {
		return Budget{}, fmt.Errorf("budget %q is not \"<amount> <unit>\"", s)
	}
	amount, err := decimal.NewFromString(fields[0])
	if err != nil {
		return Budget{}, fmt.Errorf("budget %q: %w", s, err)
	}
	b := Budget{Amount: amount}
	if len(fields) == 2 {
		b.Currency = fields[1]
	}
	return b, nil
}

type Profile struct {
	AccountID string   `json:"account_id"`
	Name      string   `json:"name"`
	Skills    []string `json:"skills"`
	Portfolio string   `json:"portfolio,omitempty"`
	Email     string   `json:"email,omitempty"`
	Role      Role     `json:"role"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
}

type Gig struct {
	RefID                string           `json:"ref_id"`
	ClientID             string           `json:"client_id"`
	Title                string           `json:"title"`
	Description          string           `json:"description"`
	Duration             string           `json:"duration"`
	Budget               Budget           `json:"budget"`
	Visibility           Visibility       `json:"visibility"`
	Status               GigStatus        `json:"status"`
	EscrowStatus         EscrowStatus     `json:"escrow_status"`
	EscrowContractID     *string          `json:"escrow_contract_id,omitempty"`
	EscrowAmount         *decimal.Decimal `json:"escrow_amount,omitempty"`
	AssignedFreelancerID *string          `json:"assigned_freelancer_id,omitempty"`
	LogSeq               int64            `json:"log_seq"`
	CreatedAt            string           `json:"created_at"`
	UpdatedAt            string           `json:"updated_at"`
}

// IsParticipant reports whether accountID is the client or the assigned worker.
func (g Gig) IsParticipant(accountID string) bool {
	if accountID == "" {
		return false
	}
	if g.ClientID == accountID {
		return true
	}
	return g.AssignedFreelancerID != nil && *g.AssignedFreelancerID == accountID
}

type Message struct {
	ID       int64  `json:"id"`
	GigRefID string `json:"gig_ref_id"`
	SenderID string `json:"sender_id"`
	Content  string `json:"content"`
	SentAt   string `json:"sent_at"`
	LogSeq   int64  `json:"log_seq"`
}

type Application struct {
	ID           string           `json:"id"`
	GigRefID     string           `json:"gig_ref_id"`
	FreelancerID string           `json:"freelancer_id"`
	CoverLetter  string           `json:"cover_letter"`
	ProposedRate *decimal.Decimal `json:"proposed_rate,omitempty"`
	Status       ProposalStatus   `json:"status"`
	CreatedAt    string           `json:"created_at"`
	UpdatedAt    string           `json:"updated_at"`
}

type Invitation struct {
	ID           string         `json:"id"`
	GigRefID     string         `json:"gig_ref_id"`
	ClientID     string         `json:"client_id"`
	FreelancerID string         `json:"freelancer_id"`
	Message      string         `json:"message,omitempty"`
	Status       ProposalStatus `json:"status"`
	CreatedAt    string         `json:"created_at"`
	UpdatedAt    string         `json:"updated_at"`
}

type Review struct {
	ID         string     `json:"id"`
	GigRefID   string     `json:"gig_ref_id"`
	ReviewerID string     `json:"reviewer_id"`
	RevieweeID string     `json:"reviewee_id"`
	Rating     int        `json:"rating"`
	Comment    string     `json:"comment,omitempty"`
	Type       ReviewType `json:"review_type"`
	CreatedAt  string     `json:"created_at"`
}

type XP struct {
	AccountID string `json:"account_id"`
	XP        int64  `json:"xp"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type RewardClaim struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	RewardID  string `json:"reward_id"`
	XPAtClaim int64  `json:"xp_at_claim"`
	ClaimedAt string `json:"claimed_at"`
}

type Activity struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts"`
	Type        string `json:"type"`
	EntityKind  string `json:"entity_kind"`
	EntityID    string `json:"entity_id,omitempty"`
	ActorID     string `json:"actor_id"`
	PayloadJSON string `json:"payload_json"`
}

type SyncRun struct {
	ID         int64  `json:"id"`
	Channel    string `json:"channel"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
	Processed  int    `json:"processed"`
	Skipped    int    `json:"skipped"`
	Error      string `json:"error,omitempty"`
}
