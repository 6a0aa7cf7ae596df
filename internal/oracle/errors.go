package oracle

import (
	"errors"

	"commit-reveal-oracle/internal/ledger"
)

// Phase errors.
var (
	ErrInvalidPhase           = errors.New("invalid phase for this operation")
	ErrInvalidPhaseForJoining = errors.New("invalid phase for joining the network")
	ErrRevealPhaseClosed      = errors.New("reveal phase is closed")
	ErrRevealPhaseNotClosed   = errors.New("reveal phase is not closed yet")
)

// State errors.
var (
	ErrAlreadyCommitted = errors.New("node has already committed")
	ErrAlreadyRevealed  = errors.New("node has already revealed")
	ErrNotCommitted     = errors.New("node has not committed")
	ErrNodeNotJoined    = errors.New("node has not joined")
	ErrAlreadyJoined    = errors.New("node has already joined")
	ErrNodeSlashed      = errors.New("node is slashed")
	ErrRoundExists      = errors.New("round already exists")
	ErrRoundNotFound    = errors.New("round not found")
	ErrNodeNotFound     = errors.New("node not found")
	ErrNodeNotInRound   = errors.New("node does not belong to round")
	ErrDuplicateNode    = errors.New("node listed twice")
	ErrNodeSetMismatch  = errors.New("node set does not match the round")
	ErrInvalidParams    = errors.New("invalid round parameters")
)

var ErrUnauthorizedAccess = errors.New("unauthorized access")

var ErrMaxNodesReached = errors.New("maximum number of nodes reached")

// Proof errors.
var (
	ErrInvalidReveal    = errors.New("invalid reveal")
	ErrInvalidCollusion = errors.New("invalid collusion proof")
)

// Storage and integrity errors.
var (
	ErrConflict     = errors.New("concurrent modification")
	ErrConservation = errors.New("stake conservation violated")
)

// ErrorKind groups errors for callers that only care about the category.
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindPhase         ErrorKind = "phase"
	KindState         ErrorKind = "state"
	KindAuthorization ErrorKind = "authorization"
	KindCapacity      ErrorKind = "capacity"
	KindProof         ErrorKind = "proof"
	KindFunds         ErrorKind = "funds"
	KindStorage       ErrorKind = "storage"
)

var kinds = []struct {
	kind ErrorKind
	errs []error
}{
	{KindPhase, []error{ErrInvalidPhase, ErrInvalidPhaseForJoining, ErrRevealPhaseClosed, ErrRevealPhaseNotClosed}},
	{KindState, []error{
		ErrAlreadyCommitted, ErrAlreadyRevealed, ErrNotCommitted, ErrNodeNotJoined, ErrAlreadyJoined,
		ErrNodeSlashed, ErrRoundExists, ErrRoundNotFound, ErrNodeNotFound, ErrNodeNotInRound,
		ErrDuplicateNode, ErrNodeSetMismatch, ErrInvalidParams,
	}},
	{KindAuthorization, []error{ErrUnauthorizedAccess}},
	{KindCapacity, []error{ErrMaxNodesReached}},
	{KindProof, []error{ErrInvalidReveal, ErrInvalidCollusion}},
	{KindFunds, []error{ledger.ErrInsufficientFunds, ledger.ErrOverflow}},
}

// Kind classifies err. Errors outside the taxonomy are reported as storage
// errors, since every other failure path returns one of the sentinels.
func Kind(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		for _, target := range k.errs {
			if errors.Is(err, target) {
				return k.kind
			}
		}
	}
	return KindStorage
}
