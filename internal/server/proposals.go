package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shopspring/decimal"

	"gigledger/internal/domain"
	"gigledger/internal/engine"
)

func registerProposals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "apply",
		Method:        http.MethodPost,
		Path:          "/gigs/{ref}/applications",
		Summary:       "Apply to a public gig",
		DefaultStatus: http.StatusCreated,
		Errors:        domainErrors,
	}, func(ctx context.Context, input *struct {
		Ref  string       `path:"ref"`
		Body ApplyRequest `json:"body"`
	}) (*out[domain.Application], error) {
		var rate *decimal.Decimal
		if strings.TrimSpace(input.Body.ProposedRate) != "" {
			d, err := parseAmount("proposed_rate", input.Body.ProposedRate)
			if err != nil {
				return nil, err
			}
			rate = &d
		}
		app, err := e.Apply(ctx, engine.ApplyInput{
			GigRefID:     input.Ref,
			FreelancerID: input.Body.FreelancerID,
			CoverLetter:  input.Body.CoverLetter,
			ProposedRate: rate,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(app), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-applications",
		Method:      http.MethodGet,
		Path:        "/gigs/{ref}/applications",
		Summary:     "List applications of a gig",
		Description: "The gig owner sees every application; anyone else sees only their own.",
		Errors:      domainErrors,
	}, func(ctx context.Context, input *struct {
		Ref      string `path:"ref"`
		CallerID string `query:"caller_id" required:"true"`
	}) (*out[[]domain.Application], error) {
		list, err := e.ListApplications(ctx, input.Ref, input.CallerID)
		if err != nil {
			return nil, handleError(err)
		}
		if list == nil {
			list = []domain.Application{}
		}
		return reply(list), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-application",
		Method:      http.MethodPost,
		Path:        "/applications/{id}/accept",
		Summary:     "Accept an application and reject its pending siblings",
		Errors:      domainErrors,
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body ClientActionRequest `json:"body"`
	}) (*out[engine.AcceptResult[domain.Application]], error) {
		res, err := e.AcceptApplication(ctx, input.ID, input.Body.ClientID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-application",
		Method:      http.MethodPost,
		Path:        "/applications/{id}/reject",
		Summary:     "Reject an application",
		Errors:      domainErrors,
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body ClientActionRequest `json:"body"`
	}) (*out[domain.Application], error) {
		app, err := e.RejectApplication(ctx, input.ID, input.Body.ClientID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(app), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "invite",
		Method:        http.MethodPost,
		Path:          "/gigs/{ref}/invitations",
		Summary:       "Invite a freelancer to a private gig",
		DefaultStatus: http.StatusCreated,
		Errors:        domainErrors,
	}, func(ctx context.Context, input *struct {
		Ref  string        `path:"ref"`
		Body InviteRequest `json:"body"`
	}) (*out[domain.Invitation], error) {
		inv, err := e.Invite(ctx, engine.InviteInput{
			GigRefID:     input.Ref,
			ClientID:     input.Body.ClientID,
			FreelancerID: input.Body.FreelancerID,
			Message:      input.Body.Message,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(inv), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-gig-invitations",
		Method:      http.MethodGet,
		Path:        "/gigs/{ref}/invitations",
		Summary:     "List invitations of a gig",
		Errors:      domainErrors,
	}, func(ctx context.Context, input *struct {
		Ref      string `path:"ref"`
		CallerID string `query:"caller_id" required:"true"`
	}) (*out[[]domain.Invitation], error) {
		return listInvitations(ctx, e, input.Ref, input.CallerID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-invitations",
		Method:      http.MethodGet,
		Path:        "/users/{account_id}/invitations",
		Summary:     "List invitations addressed to an account",
		Errors:      domainErrors,
	}, func(ctx context.Context, input *struct {
		AccountID string `path:"account_id"`
	}) (*out[[]domain.Invitation], error) {
		return listInvitations(ctx, e, "", input.AccountID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-invitation",
		Method:      http.MethodPost,
		Path:        "/invitations/{id}/accept",
		Summary:     "Accept an invitation and reject pending siblings",
		Errors:      domainErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body FreelancerActionRequest `json:"body"`
	}) (*out[engine.AcceptResult[domain.Invitation]], error) {
		res, err := e.AcceptInvitation(ctx, input.ID, input.Body.FreelancerID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decline-invitation",
		Method:      http.MethodPost,
		Path:        "/invitations/{id}/decline",
		Summary:     "Decline an invitation",
		Errors:      domainErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body FreelancerActionRequest `json:"body"`
	}) (*out[domain.Invitation], error) {
		inv, err := e.DeclineInvitation(ctx, input.ID, input.Body.FreelancerID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(inv), nil
	})
}

func listInvitations(ctx context.Context, e engine.Engine, ref, callerID string) (*out[[]domain.Invitation], error) {
	list, err := e.ListInvitations(ctx, ref, callerID)
	if err != nil {
		return nil, handleError(err)
	}
	if list == nil {
		list = []domain.Invitation{}
	}
	return reply(list), nil
}

func registerReviews(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-review",
		Method:        http.MethodPost,
		Path:          "/gigs/{ref}/reviews",
		Summary:       "Review the other party of a completed gig",
		DefaultStatus: http.StatusCreated,
		Errors:        domainErrors,
	}, func(ctx context.Context, input *struct {
		Ref  string        `path:"ref"`
		Body ReviewRequest `json:"body"`
	}) (*out[domain.Review], error) {
		rev, err := e.SubmitReview(ctx, engine.ReviewInput{
			GigRefID:   input.Ref,
			ReviewerID: input.Body.ReviewerID,
			Rating:     input.Body.Rating,
			Comment:    input.Body.Comment,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(rev), nil
	})
}

func registerMessages(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "prepare-message",
		Method:      http.MethodPost,
		Path:        "/gigs/{ref}/messages/prepare",
		Summary:     "Prepare a MESSAGE for the sender to sign",
		Errors:      domainErrors,
	}, func(ctx context.Context, input *struct {
		Ref  string                `path:"ref"`
		Body PrepareMessageRequest `json:"body"`
	}) (*out[engine.PreparedMessage], error) {
		prep, err := e.PrepareMessage(ctx, input.Ref, input.Body.SenderID, input.Body.Content)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(prep), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-message",
		Method:        http.MethodPost,
		Path:          "/gigs/{ref}/messages/record",
		Summary:       "Record a submitted MESSAGE payload",
		DefaultStatus: http.StatusCreated,
		Errors:        domainErrors,
	}, func(ctx context.Context, input *struct {
		Ref  string       `path:"ref"`
		Body EventRequest `json:"body"`
	}) (*out[domain.Message], error) {
		raw, err := rawEvent("event", input.Body.Event)
		if err != nil {
			return nil, err
		}
		if ref, _ := input.Body.Event["gigRefId"].(string); ref != input.Ref {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "event gigRefId does not match path", map[string]any{
				"path": input.Ref, "event": ref,
			})
		}
		m, err := e.RecordMessage(ctx, raw, input.Body.Sequence)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-messages",
		Method:      http.MethodGet,
		Path:        "/gigs/{ref}/messages",
		Summary:     "List the conversation of a gig",
		Errors:      domainErrors,
	}, func(ctx context.Context, input *struct {
		Ref      string `path:"ref"`
		CallerID string `query:"caller_id" required:"true"`
	}) (*out[[]domain.Message], error) {
		list, err := e.ListMessages(ctx, input.Ref, input.CallerID)
		if err != nil {
			return nil, handleError(err)
		}
		if list == nil {
			list = []domain.Message{}
		}
		return reply(list), nil
	})
}
