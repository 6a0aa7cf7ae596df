package oracle

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Initialize creates round id owned by caller, in the precommit phase.
func (e *Engine) Initialize(ctx context.Context, caller, id Address, p Params) (*Round, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if len(id) == 0 || len(caller) == 0 {
		return nil, fmt.Errorf("empty round or caller identity: %w", ErrInvalidParams)
	}
	var created *Round
	err := e.update(ctx, "initialize", func(tx Tx, _ *txEvents) error {
		_, err := tx.GetRound(id)
		switch {
		case err == nil:
			return fmt.Errorf("round %s: %w", id, ErrRoundExists)
		case !errors.Is(err, ErrRoundNotFound):
			return err
		}
		r := &Round{
			ID:           id,
			Authority:    caller,
			Collateral:   p.Collateral,
			RevealWindow: p.RevealWindow,
			MaxNodes:     p.MaxNodes,
			SlashPolicy:  p.SlashPolicy,
			Phase:        PhasePrecommit,
		}
		if err := tx.PutRound(r); err != nil {
			return err
		}
		created = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("round initialized", "round", id, "authority", caller,
		"collateral", p.Collateral, "reveal_window", p.RevealWindow,
		"max_nodes", p.MaxNodes, "slash_policy", p.SlashPolicy)
	return created, nil
}

// StartRequest opens the commit phase. Only the round authority may call it.
func (e *Engine) StartRequest(ctx context.Context, caller, id Address) error {
	return e.update(ctx, "start_request", func(tx Tx, events *txEvents) error {
		r, err := loadRound(tx, id)
		if err != nil {
			return err
		}
		if !sameAddress(caller, r.Authority) {
			return fmt.Errorf("start round %s: %w", id, ErrUnauthorizedAccess)
		}
		if r.Phase != PhasePrecommit {
			return fmt.Errorf("start round %s in %s: %w", id, r.Phase, ErrInvalidPhase)
		}
		r.Phase = PhaseCommit
		r.CommittedNodes = 0
		if err := tx.PutRound(r); err != nil {
			return err
		}
		events.emit(PhaseChanged{Round: r.ID, From: PhasePrecommit, To: PhaseCommit, At: e.clock.Now()})
		e.logger.Info("commit phase opened", "round", id, "nodes", r.TotalNodes)
		return nil
	})
}

// maybeOpenReveal moves a round from commit to reveal once every joined node
// has committed. The caller persists r.
func (e *Engine) maybeOpenReveal(r *Round, events *txEvents) error {
	if r.Phase != PhaseCommit || r.CommittedNodes != r.TotalNodes {
		return nil
	}
	now := e.clock.Now()
	if r.RevealWindow <= 0 || r.RevealWindow > math.MaxInt64-now {
		return fmt.Errorf("reveal window %ds from %d overflows the deadline: %w", r.RevealWindow, now, ErrInvalidParams)
	}
	r.Phase = PhaseReveal
	r.RevealDeadline = now + r.RevealWindow
	events.emit(PhaseChanged{
		Round:          r.ID,
		From:           PhaseCommit,
		To:             PhaseReveal,
		RevealDeadline: r.RevealDeadline,
		At:             now,
	})
	e.logger.Info("reveal phase opened", "round", r.ID, "deadline", r.RevealDeadline)
	return nil
}
