// Package escrow drives the prepare/record protocol that moves a gig and
// its escrow contract through their lifecycle.
//
// Prepare calls validate and build unsigned operations for an external
// signer; they commit nothing. Record calls confirm the signed operation on
// the ledger, publish the resulting gig state on the gig channel, and then
// commit it to the store in a single transaction. Arbiter calls are
// single-phase because the arbiter key is held by the ledger node service.
package escrow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"gigledger/internal/apperr"
	"gigledger/internal/config"
	"gigledger/internal/domain"
	"gigledger/internal/events"
	"gigledger/internal/ledger"
	"gigledger/internal/metrics"
	"gigledger/internal/notify"
	"gigledger/internal/repo"
	"gigledger/internal/resolver"
)

// DefaultChunkSize is the largest bytecode slice staged per file operation.
const DefaultChunkSize = 4096

type Orchestrator struct {
	Repo     repo.Repo
	Events   events.Writer
	Gateway  ledger.Gateway
	Resolver *resolver.Resolver
	Builder  ledger.Builder
	Notifier *notify.Notifier
	Config   *config.Config
	// Bytecode is the escrow contract init code staged before every deployment.
	Bytecode []byte
	Logger   *slog.Logger
	Now      func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) stamp() string {
	return o.now().UTC().Format(time.RFC3339)
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *Orchestrator) builder() ledger.Builder {
	b := o.Builder
	if b.Now == nil {
		b.Now = o.now
	}
	return b
}

func (o *Orchestrator) chunkSize() int {
	if o.Config != nil && o.Config.Escrow.ChunkSize > 0 {
		return o.Config.Escrow.ChunkSize
	}
	return DefaultChunkSize
}

// LoadBytecode reads hex-encoded contract init code from path.
func LoadBytecode(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read escrow bytecode: %w", err)
	}
	text := strings.TrimPrefix(strings.TrimSpace(string(raw)), "0x")
	if len(common.FromHex(text)) == 0 {
		return nil, fmt.Errorf("escrow bytecode %s is empty or not hex", path)
	}
	return []byte(text), nil
}

// ownedGig loads ref and checks that clientID owns it.
func (o *Orchestrator) ownedGig(ctx context.Context, ref, clientID string) (domain.Gig, error) {
	if strings.TrimSpace(ref) == "" {
		return domain.Gig{}, apperr.Validation("gig ref id is required")
	}
	if strings.TrimSpace(clientID) == "" {
		return domain.Gig{}, apperr.Validation("client id is required")
	}
	g, err := o.Repo.GetGig(ctx, ref)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Gig{}, apperr.NotFound("gig", ref)
	}
	if err != nil {
		return domain.Gig{}, err
	}
	if g.ClientID != clientID {
		return domain.Gig{}, apperr.Authorization("account %s does not own gig %s", clientID, ref).With("gig_ref_id", ref)
	}
	return g, nil
}

func requireStatus(g domain.Gig, status domain.GigStatus, escrow ...domain.EscrowStatus) error {
	if g.Status != status {
		return apperr.StateConflict("gig", g.RefID, []string{string(status)}, string(g.Status))
	}
	for _, e := range escrow {
		if g.EscrowStatus == e {
			return nil
		}
	}
	expected := make([]string, len(escrow))
	for i, e := range escrow {
		expected[i] = string(e)
	}
	return apperr.StateConflict("escrow", g.RefID, expected, string(g.EscrowStatus))
}

func contractOf(g domain.Gig) (string, error) {
	if g.EscrowContractID == nil || *g.EscrowContractID == "" {
		return "", apperr.StateConflict("escrow", g.RefID, []string{"deployed"}, "no contract")
	}
	return *g.EscrowContractID, nil
}

// publish emits upd on the gig channel with the platform key and returns
// its sequence number. The store commit that follows records the sequence,
// so a replay folding an older prefix of the log leaves the row alone.
func (o *Orchestrator) publish(ctx context.Context, upd domain.GigUpdateEvent) (int64, error) {
	upd.Type = domain.EventGigUpdate
	upd.Timestamp = o.stamp()
	raw, err := events.Encode(upd)
	if err != nil {
		return 0, err
	}
	receipt, err := o.Gateway.SubmitPrivilegedMessage(ctx, o.Config.Channels.Gig, raw)
	if err != nil {
		return 0, apperr.External("publish gig update", err).With("gig_ref_id", upd.GigRefID)
	}
	return receipt.TopicSequence, nil
}

// commit saves g if it is still in the expected state, appends the activity
// row and runs extra inside the same transaction.
func (o *Orchestrator) commit(ctx context.Context, g domain.Gig, expect domain.Gig, actorID, evtType string, payload events.Payload, extra func(tx *sql.Tx) error) error {
	if g.Status != expect.Status && !expect.Status.CanTransition(g.Status) {
		return apperr.StateConflict("gig", g.RefID, []string{string(g.Status)}, string(expect.Status))
	}
	if g.EscrowStatus != expect.EscrowStatus && !expect.EscrowStatus.CanTransition(g.EscrowStatus) {
		return apperr.StateConflict("escrow", g.RefID, []string{string(g.EscrowStatus)}, string(expect.EscrowStatus))
	}
	tx, err := o.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := o.Repo.SaveGigTx(ctx, tx, g, expect.Status, expect.EscrowStatus); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return apperr.Conflict("gig %s changed concurrently", g.RefID).With("gig_ref_id", g.RefID)
		}
		return err
	}
	if extra != nil {
		if err := extra(tx); err != nil {
			return err
		}
	}
	if err := o.Events.Append(ctx, tx, evtType, "gig", g.RefID, actorID, payload); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	metrics.EscrowTransitions.WithLabelValues(string(g.EscrowStatus)).Inc()
	return nil
}

// toUnits converts amount in the native currency to the ledger's smallest
// unit.
func (o *Orchestrator) toUnits(amount decimal.Decimal) (uint64, error) {
	if !amount.IsPositive() {
		return 0, apperr.Validation("amount must be positive")
	}
	decimals := int32(8)
	if o.Config != nil {
		decimals = o.Config.Ledger.Decimals
	}
	units := amount.Shift(decimals)
	if !units.Equal(units.Truncate(0)) {
		return 0, apperr.Validation("amount %s has more than %d decimal places", amount, decimals)
	}
	n := units.BigInt()
	if !n.IsUint64() {
		return 0, apperr.Validation("amount %s is too large", amount)
	}
	return n.Uint64(), nil
}

func (o *Orchestrator) profileEmail(ctx context.Context, accountID string) string {
	p, err := o.Repo.GetProfile(ctx, accountID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			o.logger().Warn("load profile for notification", "account_id", accountID, "error", err)
		}
		return ""
	}
	return p.Email
}
