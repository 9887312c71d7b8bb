package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"gigledger/internal/domain"
	"gigledger/internal/engine"
	"gigledger/internal/replicator"
)

type SyncResult struct {
	Results []replicator.Result `json:"results"`
	Errors  []string            `json:"errors,omitempty"`
}

func registerAdmin(api huma.API, e engine.Engine, rep *replicator.Replicator) {
	adminErrors := []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusInternalServerError}

	huma.Register(api, huma.Operation{
		OperationID: "admin-sync",
		Method:      http.MethodPost,
		Path:        "/admin/sync",
		Summary:     "Replay ledger channels into the store",
		Description: "Replays one channel, or all of them when channel is empty. Each replay is a full re-derivation.",
		Errors:      append(adminErrors, http.StatusBadGateway, http.StatusServiceUnavailable),
	}, func(ctx context.Context, input *struct {
		Channel string `query:"channel" doc:"profiles, gigs, messages or empty for all"`
	}) (*out[SyncResult], error) {
		if rep == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "replicator_disabled", "replication is not configured", nil)
		}
		var (
			results []replicator.Result
			err     error
		)
		switch input.Channel {
		case "":
			results, err = rep.SyncAll(ctx)
		case "profiles", "gigs", "messages":
			sync := map[string]func(context.Context) (replicator.Result, error){
				"profiles": rep.SyncProfiles,
				"gigs":     rep.SyncGigs,
				"messages": rep.SyncMessages,
			}[input.Channel]
			var res replicator.Result
			res, err = sync(ctx)
			if err == nil {
				results = []replicator.Result{res}
			}
		default:
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "unknown channel "+input.Channel, map[string]any{"channel": input.Channel})
		}
		body := SyncResult{Results: results}
		if body.Results == nil {
			body.Results = []replicator.Result{}
		}
		if err != nil {
			// SyncAll joins per-channel failures; successful channels stay committed.
			var joined interface{ Unwrap() []error }
			if errors.As(err, &joined) {
				for _, je := range joined.Unwrap() {
					body.Errors = append(body.Errors, je.Error())
				}
			} else {
				body.Errors = []string{err.Error()}
			}
			if len(body.Results) == 0 {
				return nil, newAPIError(http.StatusBadGateway, "external_operation_failed", "replay failed", map[string]any{"errors": body.Errors})
			}
		}
		return reply(body), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-sync-runs",
		Method:      http.MethodGet,
		Path:        "/admin/sync-runs",
		Summary:     "List recent replay runs",
		Errors:      adminErrors,
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit"`
	}) (*out[[]domain.SyncRun], error) {
		runs, err := e.ListSyncRuns(ctx, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		if runs == nil {
			runs = []domain.SyncRun{}
		}
		return reply(runs), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-activity",
		Method:      http.MethodGet,
		Path:        "/admin/activity",
		Summary:     "List the activity journal",
		Errors:      adminErrors,
	}, func(ctx context.Context, input *struct {
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit"`
	}) (*out[[]domain.Activity], error) {
		list, err := e.ListActivity(ctx, input.EntityKind, input.EntityID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		if list == nil {
			list = []domain.Activity{}
		}
		return reply(list), nil
	})
}
