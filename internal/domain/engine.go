package domain

import "strings"

// NothingSentinel is the engine output meaning "no actionable result".
const NothingSentinel = "0"

// ResponseRequest is the input of a response-generation call.
type ResponseRequest struct {
	AccountID string
	Message   string
	// History holds the prior session texts in order, roles stripped.
	History []string
	Memory  string
}

// Extraction is the result of a memory-extraction call.
type Extraction struct {
	Fact  string
	Found bool
}

// ParseExtraction interprets raw engine output; blank output and the
// sentinel both mean nothing was extracted.
func ParseExtraction(raw string) Extraction {
	fact := strings.TrimSpace(raw)
	if fact == "" || fact == NothingSentinel {
		return Extraction{}
	}
	return Extraction{Fact: fact, Found: true}
}

// Ingestion is the result of an ingestion-engine call.
type Ingestion struct {
	Skipped bool
	Derived []byte
}

// ParseIngestion interprets raw engine output. Only the sentinel skips;
// anything else is the serialized derived representation.
func ParseIngestion(raw string) Ingestion {
	out := strings.TrimSpace(raw)
	if out == NothingSentinel {
		return Ingestion{Skipped: true}
	}
	return Ingestion{Derived: []byte(out)}
}
