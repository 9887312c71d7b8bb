package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"gigledger/internal/apperr"
	"gigledger/internal/config"
	"gigledger/internal/domain"
	"gigledger/internal/events"
)

// Reward is a configured tier together with its id.
type Reward struct {
	ID string `json:"id"`
	config.RewardTier
}

// ListRewards returns the configured tiers, lowest threshold first.
func (e Engine) ListRewards() []Reward {
	if e.Config == nil {
		return []Reward{}
	}
	out := make([]Reward, 0, len(e.Config.Rewards))
	for _, id := range e.Config.RewardIDs() {
		out = append(out, Reward{ID: id, RewardTier: e.Config.Rewards[id]})
	}
	return out
}

// ClaimReward grants rewardID to accountID once its XP reaches the tier
// threshold. Each reward is claimable once per account.
func (e Engine) ClaimReward(ctx context.Context, accountID, rewardID string) (domain.RewardClaim, error) {
	var tier config.RewardTier
	ok := false
	if e.Config != nil {
		tier, ok = e.Config.Rewards[rewardID]
	}
	if !ok {
		return domain.RewardClaim{}, apperr.NotFound("reward", rewardID)
	}
	var out domain.RewardClaim
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.profile(ctx, tx, accountID); err != nil {
			return err
		}
		xp, err := e.Repo.GetXPTx(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if xp.XP < tier.Threshold {
			return apperr.StateConflict("xp", accountID, []string{fmt.Sprintf(">= %d", tier.Threshold)}, strconv.FormatInt(xp.XP, 10)).
				With("reward_id", rewardID)
		}
		out = domain.RewardClaim{
			ID:        uuid.NewString(),
			AccountID: accountID,
			RewardID:  rewardID,
			XPAtClaim: xp.XP,
			ClaimedAt: e.stamp(),
		}
		if err := e.Repo.InsertRewardClaimTx(ctx, tx, out); err != nil {
			return conflict(err, "account %s already claimed reward %s", accountID, rewardID)
		}
		return e.Events.Append(ctx, tx, "reward.claim", "profile", accountID, accountID, events.Payload{
			"reward_id": rewardID, "xp": xp.XP,
		})
	})
	if err != nil {
		return domain.RewardClaim{}, err
	}
	return out, nil
}

func (e Engine) ListRewardClaims(ctx context.Context, accountID string) ([]domain.RewardClaim, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, apperr.Validation("account id is required")
	}
	return e.Repo.ListRewardClaims(ctx, accountID)
}

func (e Engine) GetXP(ctx context.Context, accountID string) (domain.XP, error) {
	if strings.TrimSpace(accountID) == "" {
		return domain.XP{}, apperr.Validation("account id is required")
	}
	return e.Repo.GetXP(ctx, accountID)
}
