package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Result classifies one evaluation outcome
type Result string

const (
	ResultPass    Result = "PASS"
	ResultWarning Result = "WARNING"
	ResultFail    Result = "FAIL"
)

// Classify derives the result from the finding lists: FAIL when any
// violation exists, WARNING when only warnings, PASS otherwise.
func Classify(violations, warnings []string) Result {
	if len(violations) > 0 {
		return ResultFail
	}
	if len(warnings) > 0 {
		return ResultWarning
	}
	return ResultPass
}

// Entry is one immutable audit record of a compliance evaluation. Entries
// are append-only and hash-chained: each entry commits to its predecessor's
// hash, so any mutation of history breaks verification from that point on.
type Entry struct {
	ID              uuid.UUID `json:"id"`
	Sequence        int64     `json:"sequence"`
	Timestamp       time.Time `json:"timestamp"`
	CustomerID      uuid.UUID `json:"customer_id"`
	CommunicationID uuid.UUID `json:"communication_id"`
	CheckType       string    `json:"check_type"`
	Result          Result    `json:"result"`
	Violations      []string  `json:"violations"`
	Warnings        []string  `json:"warnings"`
	ProcessingMs    int64     `json:"processing_time_ms"`

	PreviousHash string `json:"previous_hash"`
	Hash         string `json:"hash"`
}

// NewEntry creates an unchained entry; Chain must be called before persisting
func NewEntry(customerID, communicationID uuid.UUID, checkType string, violations, warnings []string, processingMs int64, at time.Time) *Entry {
	return &Entry{
		ID:              uuid.New(),
		Timestamp:       at,
		CustomerID:      customerID,
		CommunicationID: communicationID,
		CheckType:       checkType,
		Result:          Classify(violations, warnings),
		Violations:      violations,
		Warnings:        warnings,
		ProcessingMs:    processingMs,
	}
}

// Chain assigns the entry its position and computes the tamper-evident hash
func (e *Entry) Chain(sequence int64, previousHash string) {
	e.Sequence = sequence
	e.PreviousHash = previousHash
	e.Hash = e.ComputeHash()
}

// ComputeHash hashes the canonical representation of the entry. Field order
// is fixed; violations and warnings keep their evaluation order, which is
// deterministic because the evaluator is.
func (e *Entry) ComputeHash() string {
	canonical := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%s|%d|%s",
		e.Sequence,
		e.ID,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.CustomerID,
		e.CommunicationID,
		e.CheckType,
		e.Result,
		strings.Join(e.Violations, ","),
		e.ProcessingMs,
		e.PreviousHash,
	)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the hash and checks it against the stored one
func (e *Entry) Verify() bool {
	return e.Hash == e.ComputeHash()
}

// VerifyChain walks entries in sequence order and reports the first break,
// or -1 when the chain is intact.
func VerifyChain(entries []*Entry) int {
	prev := ""
	for i, e := range entries {
		if e.PreviousHash != prev || !e.Verify() {
			return i
		}
		prev = e.Hash
	}
	return -1
}
