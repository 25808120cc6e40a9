package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"docchat/internal/domain"
)

// DefaultContinuityWindow is the inactivity gap after which a new session starts.
const DefaultContinuityWindow = 5 * time.Minute

type SessionStore interface {
	LatestSession(ctx context.Context, accountID string) (domain.Session, bool, error)
	ListSessions(ctx context.Context, accountID string) ([]domain.Session, error)
	SaveSession(ctx context.Context, s domain.Session) error
}

// SessionResolver groups messages into sessions by inactivity. The
// read-then-create step is not isolated: two racing messages near the
// window boundary may each open a session.
type SessionResolver struct {
	sessions SessionStore
	window   time.Duration
}

func NewSessionResolver(sessions SessionStore, window time.Duration) (*SessionResolver, error) {
	if sessions == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if window <= 0 {
		window = DefaultContinuityWindow
	}
	return &SessionResolver{sessions: sessions, window: window}, nil
}

// ResolveSession returns the account's latest session when its last message
// is within the window of now, otherwise a new unsaved session.
func (r *SessionResolver) ResolveSession(ctx context.Context, acct domain.Account, now time.Time) (domain.Session, error) {
	latest, ok, err := r.sessions.LatestSession(ctx, acct.ID)
	if err != nil {
		return domain.Session{}, newError(ErrorInternal, "dynamodb_session_error", err)
	}
	if ok && now.Sub(latest.LastMessageAt) <= r.window {
		return latest, nil
	}
	return domain.Session{
		ID:            newUUID(),
		AccountID:     acct.ID,
		CreatedAt:     now,
		LastMessageAt: now,
	}, nil
}

var newUUID = func() string {
	return uuid.NewString()
}
