package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"gigledger/internal/domain"
	"gigledger/internal/escrow"
	"gigledger/internal/ledger"
)

// AssignmentRecorded acknowledges an assignment with the resolved contract.
type AssignmentRecorded struct {
	Gig        domain.Gig `json:"gig"`
	ContractID string     `json:"contract_id"`
}

func registerEscrow(api huma.API, o *escrow.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID: "prepare-assignment",
		Method:      http.MethodPost,
		Path:        "/gigs/{ref}/prepare-assignment",
		Summary:     "Prepare the escrow deployment and status update for assigning a worker",
		Errors:      ledgerErrors,
	}, func(ctx context.Context, input *struct {
		Ref  string            `path:"ref"`
		Body AssignmentRequest `json:"body"`
	}) (*out[escrow.AssignmentPrepared], error) {
		prep, err := o.PrepareAssignment(ctx, input.Ref, input.Body.ClientID, input.Body.WorkerID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(prep), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-assignment",
		Method:      http.MethodPost,
		Path:        "/gigs/{ref}/record-assignment",
		Summary:     "Resolve the deployed escrow contract and start the gig",
		Errors:      ledgerErrors,
	}, func(ctx context.Context, input *struct {
		Ref  string                  `path:"ref"`
		Body RecordAssignmentRequest `json:"body"`
	}) (*out[AssignmentRecorded], error) {
		var update []byte
		if len(input.Body.Update) > 0 {
			raw, err := json.Marshal(input.Body.Update)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "validation_error", "update is not valid JSON", nil)
			}
			update = raw
		}
		g, err := o.RecordAssignment(ctx, input.Ref, escrow.RecordAssignmentInput{
			ClientID:     input.Body.ClientID,
			WorkerID:     input.Body.WorkerID,
			SubmissionID: input.Body.SubmissionID,
			Update:       update,
		})
		if err != nil {
			return nil, handleError(err)
		}
		rec := AssignmentRecorded{Gig: g}
		if g.EscrowContractID != nil {
			rec.ContractID = *g.EscrowContractID
		}
		return reply(rec), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "prepare-lock-escrow",
		Method:      http.MethodPost,
		Path:        "/gigs/{ref}/prepare-lock-escrow",
		Summary:     "Prepare the deposit call funding the escrow",
		Errors:      domainErrors,
	}, func(ctx context.Context, input *struct {
		Ref  string      `path:"ref"`
		Body LockRequest `json:"body"`
	}) (*out[ledger.Envelope], error) {
		amount, err := parseAmount("amount", input.Body.Amount)
		if err != nil {
			return nil, err
		}
		env, err := o.PrepareLock(ctx, input.Ref, input.Body.ClientID, amount)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(env), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-lock-escrow",
		Method:      http.MethodPost,
		Path:        "/gigs/{ref}/record-lock-escrow",
		Summary:     "Confirm the deposit and lock the escrow",
		Errors:      ledgerErrors,
	}, func(ctx context.Context, input *struct {
		Ref  string            `path:"ref"`
		Body RecordLockRequest `json:"body"`
	}) (*out[domain.Gig], error) {
		amount, err := parseAmount("amount", input.Body.Amount)
		if err != nil {
			return nil, err
		}
		g, err := o.RecordLock(ctx, input.Ref, escrow.RecordCallInput{
			ClientID:     input.Body.ClientID,
			SubmissionID: input.Body.SubmissionID,
			Amount:       amount,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(g), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "prepare-release-escrow",
		Method:      http.MethodPost,
		Path:        "/gigs/{ref}/prepare-release-escrow",
		Summary:     "Prepare the release call paying the worker",
		Errors:      domainErrors,
	}, func(ctx context.Context, input *struct {
		Ref  string         `path:"ref"`
		Body ReleaseRequest `json:"body"`
	}) (*out[ledger.Envelope], error) {
		env, err := o.PrepareRelease(ctx, input.Ref, input.Body.ClientID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(env), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-release-escrow",
		Method:      http.MethodPost,
		Path:        "/gigs/{ref}/record-release-escrow",
		Summary:     "Confirm the release and complete the gig",
		Errors:      ledgerErrors,
	}, func(ctx context.Context, input *struct {
		Ref  string               `path:"ref"`
		Body RecordReleaseRequest `json:"body"`
	}) (*out[domain.Gig], error) {
		g, err := o.RecordRelease(ctx, input.Ref, escrow.RecordCallInput{
			ClientID:     input.Body.ClientID,
			SubmissionID: input.Body.SubmissionID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(g), nil
	})
}

func registerArbiter(api huma.API, o *escrow.Orchestrator) {
	for _, op := range []struct {
		id, path, summary string
		run               func(context.Context, string, string) (domain.Gig, error)
	}{
		{"arbiter-release", "/arbiter/release", "Release the escrow to the worker with the arbiter key", o.ArbiterRelease},
		{"arbiter-cancel", "/arbiter/cancel", "Refund the escrow to the client with the arbiter key", o.ArbiterCancel},
	} {
		run := op.run
		huma.Register(api, huma.Operation{
			OperationID: op.id,
			Method:      http.MethodPost,
			Path:        op.path,
			Summary:     op.summary,
			Errors:      append([]int{http.StatusUnauthorized}, ledgerErrors...),
		}, func(ctx context.Context, input *struct {
			Body ArbiterRequest `json:"body"`
		}) (*out[domain.Gig], error) {
			arbiterID, authErr := subjectFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			g, err := run(ctx, strings.TrimSpace(input.Body.ContractID), arbiterID)
			if err != nil {
				return nil, handleError(err)
			}
			return reply(g), nil
		})
	}
}

// registerTransactions relays externally signed operations to the ledger.
func registerTransactions(api huma.API, gw ledger.Gateway) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-transaction",
		Method:      http.MethodPost,
		Path:        "/transactions/submit",
		Summary:     "Submit a signed transaction",
		Errors:      []int{http.StatusBadRequest, http.StatusBadGateway, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body SubmitRequest `json:"body"`
	}) (*out[TransactionResponse], error) {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(input.Body.Signed))
		if err != nil || len(raw) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "signed must be non-empty base64", map[string]any{"field": "signed"})
		}
		receipt, err := gw.SubmitSigned(ctx, raw)
		if err != nil {
			return nil, newAPIError(http.StatusBadGateway, "external_operation_failed", "submit transaction: "+err.Error(), nil)
		}
		return reply(TransactionResponse{
			TransactionID: receipt.TransactionID,
			Status:        receipt.Status,
			TopicSequence: receipt.TopicSequence,
			ContractID:    receipt.ContractID,
		}), nil
	})
}
