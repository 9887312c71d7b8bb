package escrow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gigledger/internal/apperr"
	"gigledger/internal/domain"
	"gigledger/internal/events"
	"gigledger/internal/ledger"
	"gigledger/internal/repo"
)

// AssignmentPrepared carries the two operations the client signs to assign
// a gig: the escrow deployment and the gig status update.
type AssignmentPrepared struct {
	GigRefID       string                `json:"gig_ref_id"`
	BytecodeFileID string                `json:"bytecode_file_id"`
	ContractCreate ledger.Envelope       `json:"contract_create"`
	StatusUpdate   ledger.Envelope       `json:"status_update"`
	Update         domain.GigUpdateEvent `json:"update"`
}

// PrepareAssignment stages the escrow bytecode and builds the deployment
// and status-update operations for assigning ref to workerID.
func (o *Orchestrator) PrepareAssignment(ctx context.Context, ref, clientID, workerID string) (AssignmentPrepared, error) {
	g, err := o.assignable(ctx, ref, clientID, workerID, false)
	if err != nil {
		return AssignmentPrepared{}, err
	}
	ctorArgs, err := ledger.EncodeEscrowConstructor(g.ClientID, workerID, o.Config.Escrow.ArbiterAccountID)
	if err != nil {
		return AssignmentPrepared{}, apperr.Validation("escrow parties: %v", err)
	}
	fileID, err := o.stageBytecode(ctx)
	if err != nil {
		return AssignmentPrepared{}, err
	}
	b := o.builder()
	create, err := b.ContractCreate(clientID, fileID, o.Config.Escrow.CreateGas, ctorArgs, "escrow "+ref)
	if err != nil {
		return AssignmentPrepared{}, apperr.Validation("%v", err)
	}
	status := domain.GigInProgress
	upd := domain.GigUpdateEvent{
		Type:                 domain.EventGigUpdate,
		GigRefID:             ref,
		Status:               &status,
		AssignedFreelancerID: &workerID,
		Timestamp:            o.stamp(),
	}
	statusMsg, err := o.message(clientID, o.Config.Channels.Gig, upd)
	if err != nil {
		return AssignmentPrepared{}, err
	}
	createMsg, err := create.Envelope()
	if err != nil {
		return AssignmentPrepared{}, err
	}
	o.logger().Info("assignment prepared", "gig_ref_id", ref, "worker_id", workerID, "bytecode_file", fileID,
		"transaction_id", create.TransactionID)
	return AssignmentPrepared{
		GigRefID:       ref,
		BytecodeFileID: fileID,
		ContractCreate: createMsg,
		StatusUpdate:   statusMsg,
		Update:         upd,
	}, nil
}

type RecordAssignmentInput struct {
	ClientID     string
	WorkerID     string
	SubmissionID string
	// Update is the status-update payload returned by PrepareAssignment.
	// Optional; when present it must describe this assignment.
	Update []byte
}

// RecordAssignment resolves the deployed escrow contract and moves the gig
// to IN_PROGRESS with the contract linked and the worker assigned.
func (o *Orchestrator) RecordAssignment(ctx context.Context, ref string, in RecordAssignmentInput) (domain.Gig, error) {
	if strings.TrimSpace(in.SubmissionID) == "" {
		return domain.Gig{}, apperr.Validation("submission id is required")
	}
	g, err := o.assignable(ctx, ref, in.ClientID, in.WorkerID, true)
	if err != nil {
		return domain.Gig{}, err
	}
	if len(in.Update) > 0 {
		if err := checkAssignmentUpdate(in.Update, ref, in.WorkerID); err != nil {
			return domain.Gig{}, err
		}
	}
	contractID, err := o.Resolver.ResolveContract(ctx, in.SubmissionID)
	if err != nil {
		return domain.Gig{}, err
	}
	if other, err := o.Repo.GetGigByContract(ctx, contractID); err == nil && other.RefID != ref {
		return domain.Gig{}, apperr.Conflict("contract %s already backs gig %s", contractID, other.RefID).
			With("contract_id", contractID)
	}

	next := g
	next.Status = domain.GigInProgress
	next.EscrowStatus = domain.EscrowInProgress
	next.EscrowContractID = &contractID
	next.AssignedFreelancerID = &in.WorkerID
	seq, err := o.publish(ctx, domain.GigUpdateEvent{
		GigRefID:             ref,
		Status:               &next.Status,
		AssignedFreelancerID: next.AssignedFreelancerID,
		EscrowContractID:     next.EscrowContractID,
		EscrowStatus:         &next.EscrowStatus,
	})
	if err != nil {
		return domain.Gig{}, err
	}
	next.LogSeq = seq
	next.UpdatedAt = o.stamp()
	err = o.commit(ctx, next, g, in.ClientID, "gig.assign", events.Payload{
		"worker_id": in.WorkerID, "contract_id": contractID, "submission_id": in.SubmissionID,
	}, nil)
	if err != nil {
		return domain.Gig{}, err
	}
	o.logger().Info("gig assigned", "gig_ref_id", ref, "worker_id", in.WorkerID, "contract_id", contractID, "log_seq", seq)
	return next, nil
}

// assignable checks ownership, the OPEN state and that workerID holds the
// accepted application or invitation of the gig. With replayed set, a gig
// that a replay already moved to IN_PROGRESS from the client's own status
// update, but which has no contract yet, is accepted too.
func (o *Orchestrator) assignable(ctx context.Context, ref, clientID, workerID string, replayed bool) (domain.Gig, error) {
	if strings.TrimSpace(workerID) == "" {
		return domain.Gig{}, apperr.Validation("worker id is required")
	}
	g, err := o.ownedGig(ctx, ref, clientID)
	if err != nil {
		return domain.Gig{}, err
	}
	halfApplied := replayed && g.Status == domain.GigInProgress && g.EscrowStatus == domain.EscrowOpen &&
		g.EscrowContractID == nil && g.AssignedFreelancerID != nil && *g.AssignedFreelancerID == workerID
	if !halfApplied {
		if err := requireStatus(g, domain.GigOpen, domain.EscrowOpen); err != nil {
			return domain.Gig{}, err
		}
	}
	if workerID == g.ClientID {
		return domain.Gig{}, apperr.Validation("a client cannot assign their own gig to themselves")
	}
	holder, err := o.acceptedCounterpart(ctx, ref)
	if err != nil {
		return domain.Gig{}, err
	}
	if holder != workerID {
		return domain.Gig{}, apperr.Conflict("account %s holds no accepted application or invitation for gig %s", workerID, ref).
			With("gig_ref_id", ref).With("worker_id", workerID)
	}
	return g, nil
}

func (o *Orchestrator) acceptedCounterpart(ctx context.Context, ref string) (string, error) {
	a, err := o.Repo.AcceptedApplicationTx(ctx, nil, ref)
	if err == nil {
		return a.FreelancerID, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return "", err
	}
	inv, err := o.Repo.AcceptedInvitationTx(ctx, nil, ref)
	if err == nil {
		return inv.FreelancerID, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return "", err
	}
	return "", nil
}

func checkAssignmentUpdate(payload []byte, ref, workerID string) error {
	evt, err := decodeAs(payload, domain.EventGigUpdate)
	if err != nil {
		return err
	}
	upd := evt.GigUpdate
	if upd.GigRefID != ref {
		return apperr.Validation("update payload is for gig %s, not %s", upd.GigRefID, ref)
	}
	if upd.Status == nil || *upd.Status != domain.GigInProgress {
		return apperr.Validation("update payload must set status IN_PROGRESS")
	}
	if upd.AssignedFreelancerID == nil || *upd.AssignedFreelancerID != workerID {
		return apperr.Validation("update payload must assign %s", workerID)
	}
	return nil
}

// stageBytecode uploads the escrow init code in chunks: one file create
// followed by sequential appends, each confirmed before the next.
func (o *Orchestrator) stageBytecode(ctx context.Context) (string, error) {
	if len(o.Bytecode) == 0 {
		return "", apperr.External("stage bytecode", fmt.Errorf("escrow bytecode not loaded"))
	}
	size := o.chunkSize()
	var fileID string
	for off := 0; off < len(o.Bytecode); off += size {
		end := off + size
		if end > len(o.Bytecode) {
			end = len(o.Bytecode)
		}
		chunk := o.Bytecode[off:end]
		if off == 0 {
			receipt, err := o.Gateway.CreateFile(ctx, chunk)
			if err != nil {
				return "", apperr.External("stage bytecode", err)
			}
			if receipt.FileID == "" {
				return "", apperr.External("stage bytecode", fmt.Errorf("file create returned no file id"))
			}
			fileID = receipt.FileID
			continue
		}
		if _, err := o.Gateway.AppendFile(ctx, fileID, chunk); err != nil {
			return "", apperr.External("stage bytecode", err).With("file_id", fileID).With("offset", off)
		}
	}
	o.logger().Debug("bytecode staged", "file_id", fileID, "bytes", len(o.Bytecode), "chunk_size", size)
	return fileID, nil
}
