package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"gigledger/internal/domain"
	"gigledger/internal/engine"
	"gigledger/internal/escrow"
)

const defaultCurrency = "HBAR"

func registerGigs(api huma.API, e engine.Engine, o *escrow.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID: "prepare-gig-creation",
		Method:      http.MethodPost,
		Path:        "/gigs/prepare-creation",
		Summary:     "Prepare a GIG_CREATE message for the client to sign",
		Errors:      domainErrors,
	}, func(ctx context.Context, input *struct {
		Body GigRequest `json:"body"`
	}) (*out[escrow.PreparedEvent[domain.GigCreateEvent]], error) {
		amount, err := parseAmount("budget", input.Body.Budget)
		if err != nil {
			return nil, err
		}
		currency := strings.TrimSpace(input.Body.Currency)
		if currency == "" && e.Config != nil {
			currency = e.Config.Ledger.NativeCurrency
		}
		if currency == "" {
			currency = defaultCurrency
		}
		prep, err := o.PrepareGigCreation(ctx, escrow.GigInput{
			ClientID:    input.Body.ClientID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Budget:      domain.Budget{Amount: amount, Currency: currency},
			Duration:    input.Body.Duration,
			Visibility:  domain.Visibility(input.Body.Visibility),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(prep), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-gig-creation",
		Method:        http.MethodPost,
		Path:          "/gigs/record-creation",
		Summary:       "Record a submitted GIG_CREATE payload",
		DefaultStatus: http.StatusCreated,
		Errors:        domainErrors,
	}, func(ctx context.Context, input *struct {
		Body EventRequest `json:"body"`
	}) (*out[domain.Gig], error) {
		raw, err := rawEvent("event", input.Body.Event)
		if err != nil {
			return nil, err
		}
		g, err := o.RecordGigCreation(ctx, raw, input.Body.Sequence)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(g), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-gigs",
		Method:      http.MethodGet,
		Path:        "/gigs",
		Summary:     "List gigs",
		Errors:      domainErrors,
	}, func(ctx context.Context, input *struct {
		Status       string `query:"status"`
		ClientID     string `query:"client_id"`
		FreelancerID string `query:"freelancer_id"`
		Visibility   string `query:"visibility"`
		Limit        int    `query:"limit"`
		Cursor       string `query:"cursor"`
	}) (*out[engine.GigPage], error) {
		page, err := e.ListGigs(ctx, engine.GigQuery{
			Status:       domain.GigStatus(input.Status),
			ClientID:     input.ClientID,
			FreelancerID: input.FreelancerID,
			Visibility:   domain.Visibility(input.Visibility),
			Limit:        normalizeLimit(input.Limit),
			Cursor:       input.Cursor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(page), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-gig",
		Method:      http.MethodGet,
		Path:        "/gigs/{ref}",
		Summary:     "Get gig",
		Errors:      domainErrors,
	}, func(ctx context.Context, input *struct {
		Ref string `path:"ref"`
	}) (*out[domain.Gig], error) {
		g, err := e.GetGig(ctx, input.Ref)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(g), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-gig-reviews",
		Method:      http.MethodGet,
		Path:        "/gigs/{ref}/reviews",
		Summary:     "List reviews of a gig",
		Errors:      domainErrors,
	}, func(ctx context.Context, input *struct {
		Ref string `path:"ref"`
	}) (*out[[]domain.Review], error) {
		list, err := e.ListGigReviews(ctx, input.Ref)
		if err != nil {
			return nil, handleError(err)
		}
		if list == nil {
			list = []domain.Review{}
		}
		return reply(list), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-gig-activity",
		Method:      http.MethodGet,
		Path:        "/gigs/{ref}/activity",
		Summary:     "List the activity journal of a gig",
		Errors:      domainErrors,
	}, func(ctx context.Context, input *struct {
		Ref   string `path:"ref"`
		Limit int    `query:"limit"`
	}) (*out[[]domain.Activity], error) {
		if _, err := e.GetGig(ctx, input.Ref); err != nil {
			return nil, handleError(err)
		}
		list, err := e.ListActivity(ctx, "gig", input.Ref, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		if list == nil {
			list = []domain.Activity{}
		}
		return reply(list), nil
	})
}
