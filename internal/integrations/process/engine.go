package process

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"docchat/internal/domain"
)

// maxHistoryArgBytes keeps the encoded history argument below the kernel's
// 128 KiB limit on a single argv string.
const maxHistoryArgBytes = 96 << 10

// ReasoningEngine answers and extracts memory through two external commands.
//
// The answer command receives message, account id, memory and the session
// history as a JSON array of strings, trimmed from the oldest exchange to fit
// in one argument. The memory command receives the message
// and prints a fact or "0".
type ReasoningEngine struct {
	runner *Runner
	answer []string
	memory []string
}

func NewReasoningEngine(runner *Runner, answerCmd, memoryCmd []string) (*ReasoningEngine, error) {
	if runner == nil {
		return nil, errors.New("process: runner must not be nil")
	}
	if len(answerCmd) == 0 {
		return nil, errors.New("process: answer command must not be empty")
	}
	if len(memoryCmd) == 0 {
		return nil, errors.New("process: memory command must not be empty")
	}
	return &ReasoningEngine{runner: runner, answer: answerCmd, memory: memoryCmd}, nil
}

func (e *ReasoningEngine) Respond(ctx context.Context, req domain.ResponseRequest) (string, error) {
	encoded, err := encodeHistory(req.History, maxHistoryArgBytes)
	if err != nil {
		return "", fmt.Errorf("process: Respond: encode history: %w", err)
	}
	out, err := e.runner.Run(ctx, e.answer, req.Message, req.AccountID, req.Memory, string(encoded))
	if err != nil {
		return "", fmt.Errorf("process: Respond: %w", err)
	}
	return out, nil
}

// encodeHistory JSON-encodes history, dropping the oldest user/bot pair until
// the result fits in limit bytes.
func encodeHistory(history []string, limit int) ([]byte, error) {
	if history == nil {
		history = []string{}
	}
	for {
		encoded, err := json.Marshal(history)
		if err != nil {
			return nil, err
		}
		if len(encoded) <= limit || len(history) == 0 {
			return encoded, nil
		}
		drop := min(2, len(history))
		history = history[drop:]
	}
}

func (e *ReasoningEngine) ExtractMemory(ctx context.Context, message string) (domain.Extraction, error) {
	out, err := e.runner.Run(ctx, e.memory, message)
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("process: ExtractMemory: %w", err)
	}
	return domain.ParseExtraction(out), nil
}

// IngestionEngine runs the ingest command on a stored document path. It
// prints "0" to keep the original, or the derived JSON document.
type IngestionEngine struct {
	runner *Runner
	ingest []string
}

func NewIngestionEngine(runner *Runner, ingestCmd []string) (*IngestionEngine, error) {
	if runner == nil {
		return nil, errors.New("process: runner must not be nil")
	}
	if len(ingestCmd) == 0 {
		return nil, errors.New("process: ingest command must not be empty")
	}
	return &IngestionEngine{runner: runner, ingest: ingestCmd}, nil
}

func (e *IngestionEngine) Ingest(ctx context.Context, path string) (domain.Ingestion, error) {
	out, err := e.runner.Run(ctx, e.ingest, path)
	if err != nil {
		return domain.Ingestion{}, fmt.Errorf("process: Ingest: %w", err)
	}
	res := domain.ParseIngestion(out)
	if !res.Skipped && len(res.Derived) > 0 && !json.Valid(res.Derived) {
		return domain.Ingestion{}, fmt.Errorf("process: Ingest: %s printed output that is not JSON", e.ingest[0])
	}
	return res, nil
}
