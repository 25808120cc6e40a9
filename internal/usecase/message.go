package usecase

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"docchat/internal/domain"
)

const defaultMaxMessage = 2000

type SendInput struct {
	AccountID string
	Message   string
}

type SendOutput struct {
	Response      string
	MemoryUpdated bool
	SessionID     string
}

// MessageService composes one message request: quota, session choice and
// the orchestrated round.
type MessageService struct {
	accounts      *AccountService
	quota         *QuotaEnforcer
	resolver      *SessionResolver
	orchestrator  *Orchestrator
	sessions      SessionStore
	maxMessageLen int
	now           func() time.Time
}

func NewMessageService(accounts *AccountService, quota *QuotaEnforcer, resolver *SessionResolver, orchestrator *Orchestrator, sessions SessionStore, maxMessageLen int) (*MessageService, error) {
	if accounts == nil {
		return nil, errors.New("usecase: account service must not be nil")
	}
	if quota == nil {
		return nil, errors.New("usecase: quota enforcer must not be nil")
	}
	if resolver == nil {
		return nil, errors.New("usecase: session resolver must not be nil")
	}
	if orchestrator == nil {
		return nil, errors.New("usecase: orchestrator must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if maxMessageLen <= 0 {
		maxMessageLen = defaultMaxMessage
	}
	return &MessageService{
		accounts:      accounts,
		quota:         quota,
		resolver:      resolver,
		orchestrator:  orchestrator,
		sessions:      sessions,
		maxMessageLen: maxMessageLen,
		now:           orchestrator.now,
	}, nil
}

// Send validates the message, debits quota, picks the session and runs the
// round. Usage is debited per attempt, so a failed round still counts.
func (s *MessageService) Send(ctx context.Context, in SendInput) (SendOutput, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return SendOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if utf8.RuneCountInString(message) > s.maxMessageLen {
		return SendOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}

	acct, err := s.accounts.Load(ctx, in.AccountID)
	if err != nil {
		return SendOutput{}, err
	}
	decision, err := s.quota.Authorize(ctx, &acct)
	if err != nil {
		return SendOutput{}, newError(ErrorInternal, "dynamodb_usage_error", err)
	}
	if !decision.Allowed {
		return SendOutput{}, newError(ErrorQuotaExceeded, decision.Reason, nil)
	}

	session, err := s.resolver.ResolveSession(ctx, acct, s.now())
	if err != nil {
		return SendOutput{}, err
	}
	out, err := s.orchestrator.Process(ctx, &acct, &session, message)
	if err != nil {
		return SendOutput{}, err
	}
	return SendOutput{
		Response:      out.Response,
		MemoryUpdated: out.MemoryUpdated,
		SessionID:     session.ID,
	}, nil
}

// ListSessions returns the account's sessions, newest first.
func (s *MessageService) ListSessions(ctx context.Context, accountID string) ([]domain.Session, error) {
	acct, err := s.accounts.Load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	sessions, err := s.sessions.ListSessions(ctx, acct.ID)
	if err != nil {
		return nil, newError(ErrorInternal, "dynamodb_session_error", err)
	}
	return sessions, nil
}
