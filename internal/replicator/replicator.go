// Package replicator re-derives profiles, gigs and messages from the ledger
// channels. Every run is a full replay from the first message; nothing is
// resumed from a previous run.
package replicator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"gigledger/internal/domain"
	"gigledger/internal/events"
	"gigledger/internal/ledger"
	"gigledger/internal/metrics"
	"gigledger/internal/repo"
)

const (
	ChannelProfile = "profile"
	ChannelGig     = "gig"
	ChannelMessage = "message"
)

// maxPages bounds a single channel replay so a cursor cycle on the indexer
// side cannot spin forever.
const maxPages = 100000

// Channels maps logical channels to ledger topic ids.
type Channels struct {
	Profile string
	Gig     string
	Message string
}

// Result reports one channel replay.
type Result struct {
	Channel   string `json:"channel"`
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
}

type Replicator struct {
	Indexer  ledger.Indexer
	Repo     repo.Repo
	Channels Channels
	Logger   *slog.Logger
	Now      func() time.Time
}

func (r *Replicator) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *Replicator) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// SyncAll replays every channel. A failing channel does not stop the others;
// the returned error joins every channel failure.
func (r *Replicator) SyncAll(ctx context.Context) ([]Result, error) {
	var results []Result
	var errs []error
	for _, sync := range []func(context.Context) (Result, error){r.SyncProfiles, r.SyncGigs, r.SyncMessages} {
		res, err := sync(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// SyncProfiles folds PROFILE_CREATE events; a later event for the same
// account replaces the earlier one.
func (r *Replicator) SyncProfiles(ctx context.Context) (Result, error) {
	return r.run(ctx, ChannelProfile, r.Channels.Profile, func(msgs []ledger.ChannelMessage) (Result, func(context.Context) error) {
		res := Result{Channel: ChannelProfile}
		byAccount := map[string]domain.Profile{}
		var order []string
		for _, m := range msgs {
			evt, ok := r.decode(m, domain.EventProfileCreate)
			if !ok {
				res.Skipped++
				continue
			}
			p := evt.ProfileCreate.Profile(consensusTime(m.ConsensusTimestamp))
			if prev, seen := byAccount[p.AccountID]; seen {
				p.CreatedAt = prev.CreatedAt
			} else {
				order = append(order, p.AccountID)
			}
			byAccount[p.AccountID] = p
			res.Processed++
		}
		return res, func(ctx context.Context) error {
			return r.inTx(ctx, func(tx *sql.Tx) error {
				for _, id := range order {
					if err := r.Repo.UpsertProfileTx(ctx, tx, byAccount[id]); err != nil {
						return err
					}
				}
				return nil
			})
		}
	})
}

// SyncGigs folds GIG_CREATE and GIG_UPDATE events. Updates for a gig that
// has not been created earlier in the log are dropped.
func (r *Replicator) SyncGigs(ctx context.Context) (Result, error) {
	return r.run(ctx, ChannelGig, r.Channels.Gig, func(msgs []ledger.ChannelMessage) (Result, func(context.Context) error) {
		res := Result{Channel: ChannelGig}
		gigs := map[string]*domain.Gig{}
		var order []string
		for _, m := range msgs {
			evt, ok := r.decode(m, domain.EventGigCreate, domain.EventGigUpdate)
			if !ok {
				res.Skipped++
				continue
			}
			ts := consensusTime(m.ConsensusTimestamp)
			switch {
			case evt.GigCreate != nil:
				if _, seen := gigs[evt.GigCreate.GigRefID]; seen {
					r.logger().Warn("duplicate gig create ignored", "gig_ref_id", evt.GigCreate.GigRefID, "seq", m.Sequence)
					res.Skipped++
					continue
				}
				g := domain.NewGigFromCreate(*evt.GigCreate, m.Sequence, ts)
				gigs[g.RefID] = &g
				order = append(order, g.RefID)
			case evt.GigUpdate != nil:
				g, seen := gigs[evt.GigUpdate.GigRefID]
				if !seen {
					r.logger().Debug("gig update before create dropped", "gig_ref_id", evt.GigUpdate.GigRefID, "seq", m.Sequence)
					res.Skipped++
					continue
				}
				evt.GigUpdate.Apply(g, m.Sequence, ts)
			}
			res.Processed++
		}
		return res, func(ctx context.Context) error {
			return r.inTx(ctx, func(tx *sql.Tx) error {
				for _, ref := range order {
					if err := r.Repo.UpsertGigFromLogTx(ctx, tx, *gigs[ref]); err != nil {
						return err
					}
				}
				return nil
			})
		}
	})
}

// SyncMessages replaces the stored messages with the channel contents.
func (r *Replicator) SyncMessages(ctx context.Context) (Result, error) {
	return r.run(ctx, ChannelMessage, r.Channels.Message, func(msgs []ledger.ChannelMessage) (Result, func(context.Context) error) {
		res := Result{Channel: ChannelMessage}
		var out []domain.Message
		for _, m := range msgs {
			evt, ok := r.decode(m, domain.EventMessage)
			if !ok {
				res.Skipped++
				continue
			}
			sentAt := evt.Message.SentAt
			if sentAt == "" {
				sentAt = consensusTime(m.ConsensusTimestamp)
			}
			out = append(out, domain.Message{
				GigRefID: evt.Message.GigRefID,
				SenderID: evt.Message.SenderID,
				Content:  evt.Message.Content,
				SentAt:   sentAt,
				LogSeq:   m.Sequence,
			})
			res.Processed++
		}
		return res, func(ctx context.Context) error {
			return r.inTx(ctx, func(tx *sql.Tx) error { return r.Repo.ReplaceMessagesTx(ctx, tx, out) })
		}
	})
}

func (r *Replicator) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type foldFunc func([]ledger.ChannelMessage) (Result, func(context.Context) error)

// run fetches the whole channel, folds it and commits. A fetch error aborts
// before anything is written.
func (r *Replicator) run(ctx context.Context, channel, channelID string, fold foldFunc) (Result, error) {
	started := r.now().UTC()
	if strings.TrimSpace(channelID) == "" {
		return Result{}, fmt.Errorf("replay %s: channel id not configured", channel)
	}
	msgs, err := r.fetchAll(ctx, channelID)
	if err == nil {
		var res Result
		var commit func(context.Context) error
		res, commit = fold(msgs)
		if err = commit(ctx); err == nil {
			metrics.ReplayedEvents.WithLabelValues(channel).Add(float64(res.Processed))
			metrics.SkippedEvents.WithLabelValues(channel).Add(float64(res.Skipped))
			r.logger().Info("channel replayed", "channel", channel, "topic", channelID, "processed", res.Processed, "skipped", res.Skipped)
			r.recordRun(ctx, started, res, nil)
			return res, nil
		}
	}
	metrics.ReplayFailures.WithLabelValues(channel).Inc()
	r.logger().Error("channel replay failed", "channel", channel, "topic", channelID, "error", err)
	r.recordRun(ctx, started, Result{Channel: channel}, err)
	return Result{}, fmt.Errorf("replay %s: %w", channel, err)
}

func (r *Replicator) fetchAll(ctx context.Context, channelID string) ([]ledger.ChannelMessage, error) {
	var out []ledger.ChannelMessage
	cursor := ""
	for pages := 0; pages < maxPages; pages++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := r.Indexer.FetchChannelPage(ctx, channelID, cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Messages...)
		if page.Next == "" {
			return out, nil
		}
		if page.Next == cursor {
			return nil, fmt.Errorf("indexer returned the same cursor twice")
		}
		cursor = page.Next
	}
	return nil, fmt.Errorf("channel %s exceeds %d pages", channelID, maxPages)
}

// decode returns the event if m parses as one of the wanted types.
func (r *Replicator) decode(m ledger.ChannelMessage, want ...string) (events.Decoded, bool) {
	if m.Payload == nil {
		return events.Decoded{}, false
	}
	evt, err := events.Decode(m.Payload)
	if err != nil {
		r.logger().Debug("skipping malformed event", "seq", m.Sequence, "error", err)
		return events.Decoded{}, false
	}
	for _, w := range want {
		if evt.Type == w {
			return evt, true
		}
	}
	r.logger().Debug("skipping event of foreign type", "seq", m.Sequence, "type", evt.Type)
	return events.Decoded{}, false
}

func (r *Replicator) recordRun(ctx context.Context, started time.Time, res Result, runErr error) {
	run := domain.SyncRun{
		Channel:    res.Channel,
		StartedAt:  started.Format(time.RFC3339),
		FinishedAt: r.now().UTC().Format(time.RFC3339),
		Processed:  res.Processed,
		Skipped:    res.Skipped,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := r.Repo.InsertSyncRun(context.WithoutCancel(ctx), run); err != nil {
		r.logger().Warn("record sync run", "channel", res.Channel, "error", err)
	}
}

// consensusTime converts a seconds.nanos consensus timestamp to RFC3339.
func consensusTime(ts string) string {
	secs, nanos, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return ""
	}
	n, _ := strconv.ParseInt(nanos, 10, 64)
	return time.Unix(s, n).UTC().Format(time.RFC3339)
}
