package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"docchat/internal/domain"
)

// ReasoningEngine generates replies and extracts durable facts about the user.
type ReasoningEngine interface {
	Respond(ctx context.Context, req domain.ResponseRequest) (string, error)
	ExtractMemory(ctx context.Context, message string) (domain.Extraction, error)
}

type ProcessOutput struct {
	Response      string
	MemoryUpdated bool
}

// stageError records which engine call failed.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

const (
	// DefaultMaxContextItems bounds the history texts sent with a response request.
	DefaultMaxContextItems = 20
	// DefaultMaxSessionBytes keeps a stored session well under the 400 KB DynamoDB item limit.
	DefaultMaxSessionBytes = 300 << 10
)

type OrchestratorOption func(*Orchestrator)

// WithMemoryFailureFatal makes a failed extraction fail the round.
func WithMemoryFailureFatal(fatal bool) OrchestratorOption {
	return func(o *Orchestrator) {
		o.memoryFailureFatal = fatal
	}
}

// WithMaxContextItems bounds how many of the latest session texts reach the engine.
func WithMaxContextItems(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxContextItems = n
		}
	}
}

// WithMaxSessionBytes sets the transcript size past which a round rolls over
// into a new session.
func WithMaxSessionBytes(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxSessionBytes = n
		}
	}
}

func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// Orchestrator runs one conversational round: both engine calls in
// parallel, then the transcript and memory writes.
type Orchestrator struct {
	engine   ReasoningEngine
	accounts AccountStore
	sessions SessionStore
	logger   *slog.Logger

	memoryFailureFatal bool
	maxContextItems    int
	maxSessionBytes    int
	now                func() time.Time
}

func NewOrchestrator(engine ReasoningEngine, accounts AccountStore, sessions SessionStore, logger *slog.Logger, opts ...OrchestratorOption) (*Orchestrator, error) {
	if engine == nil {
		return nil, errors.New("usecase: reasoning engine must not be nil")
	}
	if accounts == nil {
		return nil, errors.New("usecase: account store must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		engine:   engine,
		accounts: accounts,
		sessions: sessions,
		logger:   logger,
		now:      time.Now,

		maxContextItems: DefaultMaxContextItems,
		maxSessionBytes: DefaultMaxSessionBytes,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Process runs a round for text. On success the session gains a User and a
// Bot message and is persisted; a failed round persists nothing. A round that
// would push the transcript past the size budget is stored in a fresh session
// instead.
func (o *Orchestrator) Process(ctx context.Context, acct *domain.Account, session *domain.Session, text string) (ProcessOutput, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ProcessOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}

	req := domain.ResponseRequest{
		AccountID: acct.ID,
		Message:   text,
		History:   lastN(session.Transcript(), o.maxContextItems),
		Memory:    acct.Memory,
	}

	var (
		response   string
		extraction domain.Extraction
		extractErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := o.engine.Respond(gctx, req)
		if err != nil {
			return &stageError{stage: "response", err: err}
		}
		if strings.TrimSpace(out) == "" {
			return &stageError{stage: "response", err: errors.New("empty response")}
		}
		response = out
		return nil
	})
	g.Go(func() error {
		out, err := o.engine.ExtractMemory(gctx, text)
		if err != nil {
			if o.memoryFailureFatal {
				return &stageError{stage: "memory", err: err}
			}
			extractErr = err
			return nil
		}
		extraction = out
		return nil
	})
	if err := g.Wait(); err != nil {
		reason := "engine_error"
		var se *stageError
		if errors.As(err, &se) {
			reason = se.stage + "_engine_error"
		}
		return ProcessOutput{}, newError(ErrorEngine, reason, err)
	}
	if extractErr != nil {
		o.logger.WarnContext(ctx, "memory extraction failed", "account_id", acct.ID, "err", extractErr)
	}

	now := o.now()
	round := []domain.Message{
		{Sender: domain.SenderUser, Text: text},
		{Sender: domain.SenderBot, Text: response},
	}
	updated := *session
	updated.Messages = append(slices.Clone(session.Messages), round...)
	if len(session.Messages) > 0 && updated.TextSize() > o.maxSessionBytes {
		o.logger.InfoContext(ctx, "session size budget reached, starting a new session", "account_id", acct.ID, "session_id", session.ID)
		updated = domain.Session{
			ID:        newUUID(),
			AccountID: acct.ID,
			Messages:  round,
			CreatedAt: now,
		}
	}
	updated.LastMessageAt = now
	if err := o.sessions.SaveSession(ctx, updated); err != nil {
		return ProcessOutput{}, newError(ErrorInternal, "dynamodb_session_write_error", err)
	}
	*session = updated

	out := ProcessOutput{Response: response}
	if !extraction.Found {
		return out, nil
	}
	memory := appendMemory(acct.Memory, extraction.Fact)
	if err := o.accounts.SetMemory(ctx, acct.ID, memory); err != nil {
		// The transcript is already saved; report the round without the memory update.
		o.logger.WarnContext(ctx, "memory write failed", "account_id", acct.ID, "err", fmt.Errorf("usecase: set memory: %w", err))
		return out, nil
	}
	acct.Memory = memory
	out.MemoryUpdated = true
	return out, nil
}

// lastN returns at most the trailing n texts, starting on a user text so the
// result still alternates user and bot.
func lastN(texts []string, n int) []string {
	if len(texts) <= n {
		return texts
	}
	start := len(texts) - n
	if start%2 == 1 {
		start++
	}
	return texts[start:]
}
