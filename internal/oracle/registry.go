package oracle

import (
	"context"
	"errors"
	"fmt"

	"commit-reveal-oracle/internal/ledger"
)

// JoinNetwork escrows the round collateral from caller's wallet and registers
// a node owned by caller. Joining is open in the precommit and commit phases.
func (e *Engine) JoinNetwork(ctx context.Context, caller, roundID Address) (*Node, error) {
	var joined *Node
	err := e.update(ctx, "join_network", func(tx Tx, events *txEvents) error {
		r, err := loadRound(tx, roundID)
		if err != nil {
			return err
		}
		if r.Phase != PhasePrecommit && r.Phase != PhaseCommit {
			return fmt.Errorf("join round %s in %s: %w", roundID, r.Phase, ErrInvalidPhaseForJoining)
		}
		if r.Capped() && r.TotalNodes >= r.MaxNodes {
			return fmt.Errorf("join round %s (%d/%d): %w", roundID, r.TotalNodes, r.MaxNodes, ErrMaxNodesReached)
		}

		id := NodeID(roundID, caller)
		if _, err := tx.GetNode(id); err == nil {
			return fmt.Errorf("node %s: %w", id, ErrAlreadyJoined)
		} else if !errors.Is(err, ErrNodeNotFound) {
			return err
		}

		if err := ledger.Transfer(tx, ledger.Wallet(caller), ledger.Escrow(id), r.Collateral); err != nil {
			return fmt.Errorf("escrow collateral: %w", err)
		}
		n := &Node{
			ID:    id,
			Round: roundID,
			Owner: caller,
			Stake: r.Collateral,
		}
		if err := tx.PutNode(n); err != nil {
			return err
		}
		r.TotalNodes++
		r.Deposited += r.Collateral
		if err := tx.PutRound(r); err != nil {
			return err
		}
		if err := checkConservation(tx, r); err != nil {
			return err
		}
		events.emit(NodeJoined{Round: roundID, Node: id, Owner: caller, Stake: r.Collateral})
		joined = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("node joined", "round", roundID, "node", joined.ID, "owner", caller)
	return joined, nil
}
