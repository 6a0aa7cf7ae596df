package oracle

import (
	"context"

	"commit-reveal-oracle/internal/ledger"
)

// Store persists rounds, nodes and balances.
type Store interface {
	// Update runs fn in a single transaction. If fn returns an error nothing
	// it wrote is kept.
	Update(ctx context.Context, fn func(tx Tx) error) error
	// View runs fn against a consistent read-only snapshot.
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transactional view handed to Store callbacks.
//
// PutRound and PutNode compare the record's Version with the stored one and
// fail with ErrConflict on mismatch; on success they bump Version in place.
// A record with Version 0 is a create and fails if the key already exists.
type Tx interface {
	ledger.Balances

	GetRound(id Address) (*Round, error) // ErrRoundNotFound
	PutRound(r *Round) error
	GetNode(id Address) (*Node, error) // ErrNodeNotFound
	PutNode(n *Node) error
	// ListNodes returns the nodes of a round ordered by node id.
	ListNodes(round Address) ([]*Node, error)
}
