package usecase

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"docchat/internal/domain"
)

type AccountStore interface {
	GetAccount(ctx context.Context, accountID string) (domain.Account, bool, error)
	CreateAccount(ctx context.Context, acct domain.Account) error
	IncrementUsage(ctx context.Context, accountID string, limit int) (int, error)
	SetTier(ctx context.Context, accountID string, tier domain.Tier) error
	SetMemory(ctx context.Context, accountID, memory string) error
}

// Profile is the account view returned to the owner.
type Profile struct {
	Tier       domain.Tier
	UsageCount int
	// MaxUsage is nil for the unlimited tier.
	MaxUsage *int
	Memory   string
}

type AccountService struct {
	accounts AccountStore
	quota    *QuotaEnforcer
}

func NewAccountService(accounts AccountStore, quota *QuotaEnforcer) (*AccountService, error) {
	if accounts == nil {
		return nil, errors.New("usecase: account store must not be nil")
	}
	if quota == nil {
		return nil, errors.New("usecase: quota enforcer must not be nil")
	}
	return &AccountService{accounts: accounts, quota: quota}, nil
}

// Load returns the account of a principal, creating it on first sight.
func (s *AccountService) Load(ctx context.Context, accountID string) (domain.Account, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return domain.Account{}, newError(ErrorInvalidInput, "missing_account", nil)
	}
	acct, ok, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return domain.Account{}, newError(ErrorInternal, "dynamodb_account_error", err)
	}
	if ok {
		return acct, nil
	}

	acct = domain.NewAccount(accountID)
	err = s.accounts.CreateAccount(ctx, acct)
	if errors.Is(err, domain.ErrConflict) {
		// Created by a concurrent request; read the winner.
		acct, ok, err = s.accounts.GetAccount(ctx, accountID)
		if err == nil && !ok {
			err = errors.New("account vanished after create conflict")
		}
	}
	if err != nil {
		return domain.Account{}, newError(ErrorInternal, "dynamodb_account_error", err)
	}
	return acct, nil
}

func (s *AccountService) Profile(ctx context.Context, accountID string) (Profile, error) {
	acct, err := s.Load(ctx, accountID)
	if err != nil {
		return Profile{}, err
	}
	p := Profile{Tier: acct.Tier, UsageCount: acct.UsageCount, Memory: acct.Memory}
	if limit, bounded := MaxUsage(acct.Tier); bounded {
		p.MaxUsage = &limit
	}
	return p, nil
}

func (s *AccountService) ChangeTier(ctx context.Context, accountID string, tier domain.Tier) error {
	if !tier.Valid() {
		return newError(ErrorInvalidInput, "invalid_tier", nil)
	}
	acct, err := s.Load(ctx, accountID)
	if err != nil {
		return err
	}
	return s.quota.ChangeTier(ctx, &acct, tier)
}

// ReplaceMemory is the owner's overwrite path for the memory blob.
func (s *AccountService) ReplaceMemory(ctx context.Context, accountID, memory string) error {
	if utf8.RuneCountInString(memory) > domain.MaxMemoryLength {
		return newError(ErrorInvalidInput, "memory_too_long", nil)
	}
	acct, err := s.Load(ctx, accountID)
	if err != nil {
		return err
	}
	if err := s.accounts.SetMemory(ctx, acct.ID, memory); err != nil {
		return newError(ErrorInternal, "dynamodb_memory_error", err)
	}
	return nil
}

// appendMemory adds fact as a new line and keeps the blob within
// MaxMemoryLength by dropping the oldest lines first.
func appendMemory(memory, fact string) string {
	fact = strings.TrimSpace(fact)
	if fact == "" {
		return memory
	}
	lines := []string{fact}
	if memory != "" {
		lines = append(strings.Split(memory, "\n"), fact)
	}
	out := strings.Join(lines, "\n")
	for utf8.RuneCountInString(out) > domain.MaxMemoryLength && len(lines) > 1 {
		lines = lines[1:]
		out = strings.Join(lines, "\n")
	}
	if r := []rune(out); len(r) > domain.MaxMemoryLength {
		out = string(r[:domain.MaxMemoryLength])
	}
	return out
}
