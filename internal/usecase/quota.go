package usecase

import (
	"context"
	"errors"
	"fmt"

	"docchat/internal/domain"
)

const reasonUsageLimit = "usage_limit_reached"

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed bool
	Reason  string
}

// MaxUsage returns the round limit of a tier. bounded is false for the
// unlimited tier. Unknown tiers get the basic limit.
func MaxUsage(tier domain.Tier) (limit int, bounded bool) {
	switch tier {
	case domain.TierUnlimited:
		return 0, false
	case domain.TierStandard:
		return 100, true
	default:
		return 10, true
	}
}

// QuotaEnforcer gates message rounds on tier and usage. It is the only
// writer of usageCount and tier.
type QuotaEnforcer struct {
	accounts AccountStore
}

func NewQuotaEnforcer(accounts AccountStore) (*QuotaEnforcer, error) {
	if accounts == nil {
		return nil, errors.New("usecase: account store must not be nil")
	}
	return &QuotaEnforcer{accounts: accounts}, nil
}

// Authorize allows or denies one round. An allowed round on a bounded tier
// is debited immediately; the debit stands even if the round later fails.
func (q *QuotaEnforcer) Authorize(ctx context.Context, acct *domain.Account) (Decision, error) {
	limit, bounded := MaxUsage(acct.Tier)
	if !bounded {
		return Decision{Allowed: true}, nil
	}
	if acct.UsageCount >= limit {
		return Decision{Reason: reasonUsageLimit}, nil
	}

	n, err := q.accounts.IncrementUsage(ctx, acct.ID, limit)
	if errors.Is(err, domain.ErrConflict) {
		// A concurrent round took the last unit.
		acct.UsageCount = limit
		return Decision{Reason: reasonUsageLimit}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("usecase: increment usage: %w", err)
	}
	acct.UsageCount = n
	return Decision{Allowed: true}, nil
}

// ChangeTier stores a new tier and resets usage, whether or not the tier differs.
func (q *QuotaEnforcer) ChangeTier(ctx context.Context, acct *domain.Account, tier domain.Tier) error {
	if !tier.Valid() {
		return newError(ErrorInvalidInput, "invalid_tier", nil)
	}
	if err := q.accounts.SetTier(ctx, acct.ID, tier); err != nil {
		return newError(ErrorInternal, "dynamodb_tier_error", err)
	}
	acct.Tier = tier
	acct.UsageCount = 0
	return nil
}
