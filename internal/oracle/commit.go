package oracle

import (
	"context"
	"fmt"
)

func authorize(caller Address, n *Node) error {
	if !sameAddress(caller, n.Owner) {
		return fmt.Errorf("caller %s does not own node %s: %w", caller, n.ID, ErrUnauthorizedAccess)
	}
	return nil
}

// Commit records the vote commitment of node. The last outstanding commit of
// a round opens its reveal window.
func (e *Engine) Commit(ctx context.Context, caller, nodeID Address, c Commitment) error {
	return e.update(ctx, "commit", func(tx Tx, events *txEvents) error {
		n, r, err := loadNode(tx, nodeID)
		if err != nil {
			return err
		}
		if err := authorize(caller, n); err != nil {
			return err
		}
		if r.Phase != PhaseCommit {
			return fmt.Errorf("commit in %s: %w", r.Phase, ErrInvalidPhase)
		}
		if n.Slashed {
			return fmt.Errorf("node %s: %w", nodeID, ErrNodeSlashed)
		}
		if n.Committed() {
			return fmt.Errorf("node %s: %w", nodeID, ErrAlreadyCommitted)
		}

		commitment := c
		n.Commitment = &commitment
		if err := tx.PutNode(n); err != nil {
			return err
		}
		r.CommittedNodes++
		events.emit(NodeCommitted{Round: r.ID, Node: nodeID, Commitment: c})
		if err := e.maybeOpenReveal(r, events); err != nil {
			return err
		}
		return tx.PutRound(r)
	})
}

// Reveal discloses the vote behind node's commitment. The deadline is
// inclusive: a reveal at exactly RevealDeadline is accepted.
func (e *Engine) Reveal(ctx context.Context, caller, nodeID Address, vote bool, nonce Nonce) error {
	return e.update(ctx, "reveal", func(tx Tx, events *txEvents) error {
		n, r, err := loadNode(tx, nodeID)
		if err != nil {
			return err
		}
		if err := authorize(caller, n); err != nil {
			return err
		}
		if r.Phase != PhaseReveal {
			return fmt.Errorf("reveal in %s: %w", r.Phase, ErrInvalidPhase)
		}
		if now := e.clock.Now(); now > r.RevealDeadline {
			return fmt.Errorf("reveal at %d after deadline %d: %w", now, r.RevealDeadline, ErrRevealPhaseClosed)
		}
		if n.Slashed {
			return fmt.Errorf("node %s: %w", nodeID, ErrNodeSlashed)
		}
		if !n.Committed() {
			return fmt.Errorf("node %s: %w", nodeID, ErrNotCommitted)
		}
		if n.Revealed() {
			return fmt.Errorf("node %s: %w", nodeID, ErrAlreadyRevealed)
		}
		if !n.Commitment.Opens(vote, nonce) {
			return fmt.Errorf("node %s: %w", nodeID, ErrInvalidReveal)
		}

		v := vote
		n.Vote = &v
		if err := tx.PutNode(n); err != nil {
			return err
		}
		events.emit(NodeRevealed{Round: r.ID, Node: nodeID, Vote: vote})
		return nil
	})
}
