package domain

import "github.com/shopspring/decimal"

// Log event types carried on the ledger channels.
const (
	EventProfileCreate = "PROFILE_CREATE"
	EventGigCreate     = "GIG_CREATE"
	EventGigUpdate     = "GIG_UPDATE"
	EventMessage       = "MESSAGE"
)

// ProfileCreateEvent is the canonical PROFILE_CREATE payload.
type ProfileCreateEvent struct {
	Type      string   `json:"type"`
	AccountID string   `json:"accountId"`
	Name      string   `json:"name"`
	Skills    []string `json:"skills"`
	Portfolio string   `json:"portfolio,omitempty"`
	Email     string   `json:"email,omitempty"`
	Role      Role     `json:"role"`
	Timestamp string   `json:"timestamp,omitempty"`
}

// GigCreateEvent is the canonical GIG_CREATE payload. Visibility is optional
// because events written before private gigs existed do not carry it.
type GigCreateEvent struct {
	Type        string     `json:"type"`
	GigRefID    string     `json:"gigRefId"`
	ClientID    string     `json:"clientId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Budget      Budget     `json:"budget"`
	Duration    string     `json:"duration"`
	Visibility  Visibility `json:"visibility,omitempty"`
	Timestamp   string     `json:"timestamp,omitempty"`
}

// GigUpdateEvent is a shallow patch: every non-nil field overwrites the
// corresponding gig field, absent fields are left alone.
type GigUpdateEvent struct {
	Type                 string           `json:"type"`
	GigRefID             string           `json:"gigRefId"`
	Title                *string          `json:"title,omitempty"`
	Description          *string          `json:"description,omitempty"`
	Duration             *string          `json:"duration,omitempty"`
	Budget               *Budget          `json:"budget,omitempty"`
	Visibility           *Visibility      `json:"visibility,omitempty"`
	Status               *GigStatus       `json:"status,omitempty"`
	AssignedFreelancerID *string          `json:"assignedFreelancerId,omitempty"`
	EscrowContractID     *string          `json:"escrowContractId,omitempty"`
	EscrowStatus         *EscrowStatus    `json:"escrowStatus,omitempty"`
	EscrowAmount         *decimal.Decimal `json:"escrowAmount,omitempty"`
	Timestamp            string           `json:"timestamp,omitempty"`
}

// MessageEvent is the canonical MESSAGE payload on the message channel.
type MessageEvent struct {
	Type     string `json:"type"`
	GigRefID string `json:"gigRefId"`
	SenderID string `json:"senderId"`
	Content  string `json:"content"`
	SentAt   string `json:"sentAt"`
}

// NewGigFromCreate seeds an OPEN gig with no escrow linkage and no assignee.
func NewGigFromCreate(evt GigCreateEvent, seq int64, ts string) Gig {
	vis := evt.Visibility
	if vis == "" {
		vis = VisibilityPublic
	}
	if ts == "" {
		ts = evt.Timestamp
	}
	return Gig{
		RefID:        evt.GigRefID,
		ClientID:     evt.ClientID,
		Title:        evt.Title,
		Description:  evt.Description,
		Duration:     evt.Duration,
		Budget:       evt.Budget,
		Visibility:   vis,
		Status:       GigOpen,
		EscrowStatus: EscrowOpen,
		LogSeq:       seq,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
}

// Apply merges the patch onto g.
func (p GigUpdateEvent) Apply(g *Gig, seq int64, ts string) {
	if p.Title != nil {
		g.Title = *p.Title
	}
	if p.Description != nil {
		g.Description = *p.Description
	}
	if p.Duration != nil {
		g.Duration = *p.Duration
	}
	if p.Budget != nil {
		g.Budget = *p.Budget
	}
	if p.Visibility != nil {
		g.Visibility = *p.Visibility
	}
	if p.Status != nil {
		g.Status = *p.Status
	}
	if p.AssignedFreelancerID != nil {
		v := *p.AssignedFreelancerID
		g.AssignedFreelancerID = &v
	}
	if p.EscrowContractID != nil {
		v := *p.EscrowContractID
		g.EscrowContractID = &v
	}
	if p.EscrowStatus != nil {
		g.EscrowStatus = *p.EscrowStatus
	}
	if p.EscrowAmount != nil {
		v := *p.EscrowAmount
		g.EscrowAmount = &v
	}
	if seq > g.LogSeq {
		g.LogSeq = seq
	}
	if ts != "" {
		g.UpdatedAt = ts
	}
}

// Profile materializes the event as a profile record.
func (e ProfileCreateEvent) Profile(ts string) Profile {
	if ts == "" {
		ts = e.Timestamp
	}
	skills := e.Skills
	if skills == nil {
		skills = []string{}
	}
	return Profile{
		AccountID: e.AccountID,
		Name:      e.Name,
		Skills:    skills,
		Portfolio: e.Portfolio,
		Email:     e.Email,
		Role:      e.Role,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}
