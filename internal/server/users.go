package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"gigledger/internal/domain"
	"gigledger/internal/engine"
	"gigledger/internal/escrow"
)

func registerUsers(api huma.API, e engine.Engine, o *escrow.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID: "prepare-profile-creation",
		Method:      http.MethodPost,
		Path:        "/users/prepare-profile-creation",
		Summary:     "Prepare a PROFILE_CREATE message for the account to sign",
		Errors:      domainErrors,
	}, func(ctx context.Context, input *struct {
		Body ProfileRequest `json:"body"`
	}) (*out[escrow.PreparedEvent[domain.ProfileCreateEvent]], error) {
		prep, err := o.PrepareProfileCreation(ctx, escrow.ProfileInput{
			AccountID: input.Body.AccountID,
			Name:      input.Body.Name,
			Skills:    input.Body.Skills,
			Portfolio: input.Body.Portfolio,
			Email:     input.Body.Email,
			Role:      domain.Role(input.Body.Role),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(prep), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-profile-creation",
		Method:        http.MethodPost,
		Path:          "/users/record-profile-creation",
		Summary:       "Record a submitted PROFILE_CREATE payload",
		DefaultStatus: http.StatusCreated,
		Errors:        domainErrors,
	}, func(ctx context.Context, input *struct {
		Body EventRequest `json:"body"`
	}) (*out[domain.Profile], error) {
		raw, err := rawEvent("event", input.Body.Event)
		if err != nil {
			return nil, err
		}
		p, err := o.RecordProfileCreation(ctx, raw)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "register-profile",
		Method:        http.MethodPost,
		Path:          "/users/register",
		Summary:       "Register a profile without a ledger round trip",
		DefaultStatus: http.StatusCreated,
		Errors:        domainErrors,
	}, func(ctx context.Context, input *struct {
		Body ProfileRequest `json:"body"`
	}) (*out[domain.Profile], error) {
		p, err := e.RegisterProfile(ctx, engine.RegisterInput{
			AccountID: input.Body.AccountID,
			Name:      input.Body.Name,
			Skills:    input.Body.Skills,
			Portfolio: input.Body.Portfolio,
			Email:     input.Body.Email,
			Role:      domain.Role(input.Body.Role),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-profiles",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List profiles",
		Errors:      domainErrors,
	}, func(ctx context.Context, input *struct {
		Role  string `query:"role"`
		Limit int    `query:"limit"`
	}) (*out[[]domain.Profile], error) {
		list, err := e.ListProfiles(ctx, domain.Role(input.Role), normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		if list == nil {
			list = []domain.Profile{}
		}
		return reply(list), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-profile",
		Method:      http.MethodGet,
		Path:        "/users/{account_id}",
		Summary:     "Get profile",
		Errors:      domainErrors,
	}, func(ctx context.Context, input *struct {
		AccountID string `path:"account_id"`
	}) (*out[domain.Profile], error) {
		p, err := e.GetProfile(ctx, input.AccountID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-xp",
		Method:      http.MethodGet,
		Path:        "/users/{account_id}/xp",
		Summary:     "Get experience points",
		Errors:      domainErrors,
	}, func(ctx context.Context, input *struct {
		AccountID string `path:"account_id"`
	}) (*out[domain.XP], error) {
		xp, err := e.GetXP(ctx, input.AccountID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(xp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-user-reviews",
		Method:      http.MethodGet,
		Path:        "/users/{account_id}/reviews",
		Summary:     "List reviews received by an account",
		Errors:      domainErrors,
	}, func(ctx context.Context, input *struct {
		AccountID string `path:"account_id"`
	}) (*out[[]domain.Review], error) {
		list, err := e.ListReviews(ctx, input.AccountID)
		if err != nil {
			return nil, handleError(err)
		}
		if list == nil {
			list = []domain.Review{}
		}
		return reply(list), nil
	})
}

func registerRewards(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-rewards",
		Method:      http.MethodGet,
		Path:        "/rewards",
		Summary:     "List reward tiers",
	}, func(ctx context.Context, _ *struct{}) (*out[[]engine.Reward], error) {
		return reply(e.ListRewards()), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-reward-claims",
		Method:      http.MethodGet,
		Path:        "/users/{account_id}/rewards",
		Summary:     "List rewards claimed by an account",
		Errors:      domainErrors,
	}, func(ctx context.Context, input *struct {
		AccountID string `path:"account_id"`
	}) (*out[[]domain.RewardClaim], error) {
		list, err := e.ListRewardClaims(ctx, input.AccountID)
		if err != nil {
			return nil, handleError(err)
		}
		if list == nil {
			list = []domain.RewardClaim{}
		}
		return reply(list), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "claim-reward",
		Method:        http.MethodPost,
		Path:          "/users/{account_id}/rewards/{reward_id}/claim",
		Summary:       "Claim a reward tier",
		DefaultStatus: http.StatusCreated,
		Errors:        domainErrors,
	}, func(ctx context.Context, input *struct {
		AccountID string `path:"account_id"`
		RewardID  string `path:"reward_id"`
	}) (*out[domain.RewardClaim], error) {
		claim, err := e.ClaimReward(ctx, input.AccountID, input.RewardID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(claim), nil
	})
}
