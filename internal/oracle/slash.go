package oracle

import (
	"context"
	"fmt"

	"commit-reveal-oracle/internal/ledger"
)

// SlashColluding punishes a node whose (vote, nonce) leaked before the reveal
// window: anyone holding the preimage of its commitment can submit it while
// the round is still in the commit phase. Depending on the round's
// SlashPolicy the stake goes to the pool or to the caller's wallet.
func (e *Engine) SlashColluding(ctx context.Context, caller, nodeID Address, vote bool, nonce Nonce) error {
	if len(caller) == 0 {
		return fmt.Errorf("slash node %s: empty slasher: %w", nodeID, ErrUnauthorizedAccess)
	}
	var slashed NodeSlashed
	err := e.update(ctx, "slash_colluding", func(tx Tx, events *txEvents) error {
		n, r, err := loadNode(tx, nodeID)
		if err != nil {
			return err
		}
		if r.Phase != PhaseCommit {
			return fmt.Errorf("slash in %s: %w", r.Phase, ErrInvalidPhase)
		}
		if n.Slashed {
			return fmt.Errorf("node %s: %w", nodeID, ErrNodeSlashed)
		}
		if !n.Committed() {
			return fmt.Errorf("node %s: %w", nodeID, ErrNotCommitted)
		}
		if r.SlashPolicy == SlashToSlasher && sameAddress(caller, n.Owner) {
			return fmt.Errorf("owner cannot claim bounty on own node %s: %w", nodeID, ErrUnauthorizedAccess)
		}
		if !n.Commitment.Opens(vote, nonce) {
			return fmt.Errorf("node %s: %w", nodeID, ErrInvalidCollusion)
		}

		to := ledger.Pool(r.ID)
		if r.SlashPolicy == SlashToSlasher {
			to = ledger.Wallet(caller)
		}
		amount, err := forfeit(tx, n, to, SlashReasonCollusion)
		if err != nil {
			return err
		}
		if r.SlashPolicy == SlashToSlasher {
			r.Withdrawn += amount
			if err := tx.PutRound(r); err != nil {
				return err
			}
		}
		if err := checkConservation(tx, r); err != nil {
			return err
		}
		slashed = NodeSlashed{Round: r.ID, Node: nodeID, Slasher: caller, Reason: SlashReasonCollusion, Amount: amount}
		events.emit(slashed)
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.Info("node slashed", "round", slashed.Round, "node", nodeID,
		"slasher", caller, "reason", slashed.Reason, "amount", slashed.Amount)
	return nil
}

// forfeit empties the escrow of n into to and marks it slashed.
func forfeit(tx Tx, n *Node, to ledger.Account, reason SlashReason) (uint64, error) {
	escrow := ledger.Escrow(n.ID)
	amount, err := tx.Balance(escrow)
	if err != nil {
		return 0, err
	}
	if err := ledger.Transfer(tx, escrow, to, amount); err != nil {
		return 0, fmt.Errorf("forfeit node %s: %w", n.ID, err)
	}
	n.Slashed = true
	n.SlashReason = reason
	if err := tx.PutNode(n); err != nil {
		return 0, err
	}
	return amount, nil
}
