package oracle

import (
	"context"
	"fmt"

	"commit-reveal-oracle/internal/ledger"
)

// Payout is what a consensus node receives at settlement.
type Payout struct {
	Node   Address `json:"node"`
	Owner  Address `json:"owner"`
	Refund uint64  `json:"refund"`
	Reward uint64  `json:"reward"`
}

// Settlement describes how a round was resolved and who got paid.
type Settlement struct {
	ResolutionBit bool   `json:"resolution_bit"`
	TrueVotes     uint64 `json:"true_votes"`
	FalseVotes    uint64 `json:"false_votes"`
	// ConsensusCount is the number of revealers that voted ResolutionBit.
	ConsensusCount uint64 `json:"consensus_count"`
	// Forfeited is the stake moved into the pool by this settlement:
	// non-revealers and the minority side.
	Forfeited     uint64 `json:"forfeited"`
	Pool          uint64 `json:"pool"`
	RewardPerNode uint64 `json:"reward_per_node"`
	// Dust is the remainder of Pool that does not divide evenly across the
	// consensus nodes. It stays in the pool.
	Dust         uint64    `json:"dust"`
	NonRevealers []Address `json:"non_revealers,omitempty"`
	Minority     []Address `json:"minority,omitempty"`
	Payouts      []Payout  `json:"payouts,omitempty"`
}

// Paid is the total value leaving round custody.
func (s *Settlement) Paid() uint64 {
	var total uint64
	for _, p := range s.Payouts {
		total += p.Refund + p.Reward
	}
	return total
}

// NodeStake pairs a node with its current escrow balance.
type NodeStake struct {
	Node   *Node
	Escrow uint64
}

// Tally computes the settlement of a set of nodes without touching state.
// Slashed nodes are ignored; their stake already sits in the pool or was
// paid out. A tie resolves to false. With no consensus nodes nothing is
// paid and the pool is left for the record.
func Tally(nodes []NodeStake, pool uint64) Settlement {
	var s Settlement
	for _, ns := range nodes {
		n := ns.Node
		switch {
		case n.Slashed:
		case !n.Revealed():
			s.NonRevealers = append(s.NonRevealers, n.ID)
			s.Forfeited += ns.Escrow
		case *n.Vote:
			s.TrueVotes++
		default:
			s.FalseVotes++
		}
	}
	s.ResolutionBit = s.TrueVotes > s.FalseVotes

	var consensus []NodeStake
	for _, ns := range nodes {
		n := ns.Node
		if n.Slashed || !n.Revealed() {
			continue
		}
		if *n.Vote == s.ResolutionBit {
			consensus = append(consensus, ns)
			continue
		}
		s.Minority = append(s.Minority, n.ID)
		s.Forfeited += ns.Escrow
	}
	s.ConsensusCount = uint64(len(consensus))
	s.Pool = pool + s.Forfeited
	if s.ConsensusCount == 0 {
		return s
	}

	s.RewardPerNode = s.Pool / s.ConsensusCount
	s.Dust = s.Pool % s.ConsensusCount
	s.Payouts = make([]Payout, 0, len(consensus))
	for _, ns := range consensus {
		s.Payouts = append(s.Payouts, Payout{
			Node:   ns.Node.ID,
			Owner:  ns.Node.Owner,
			Refund: ns.Escrow,
			Reward: s.RewardPerNode,
		})
	}
	return s
}

// Resolve settles a round once its reveal window has closed. nodeIDs must
// list every node of the round exactly once; Nodes returns a suitable set.
// Non-revealers are slashed, the minority forfeits to the pool and the
// consensus side is refunded and shares the pool.
func (e *Engine) Resolve(ctx context.Context, caller, roundID Address, nodeIDs []Address) (*Settlement, error) {
	var settled Settlement
	err := e.update(ctx, "resolve", func(tx Tx, events *txEvents) error {
		r, err := loadRound(tx, roundID)
		if err != nil {
			return err
		}
		if r.Phase != PhaseReveal {
			return fmt.Errorf("resolve in %s: %w", r.Phase, ErrInvalidPhase)
		}
		now := e.clock.Now()
		if now <= r.RevealDeadline {
			return fmt.Errorf("resolve at %d before deadline %d: %w", now, r.RevealDeadline, ErrRevealPhaseNotClosed)
		}
		nodes, err := nodeSet(tx, r, nodeIDs)
		if err != nil {
			return err
		}

		stakes := make([]NodeStake, len(nodes))
		byID := make(map[string]*Node, len(nodes))
		for i, n := range nodes {
			bal, err := tx.Balance(ledger.Escrow(n.ID))
			if err != nil {
				return err
			}
			stakes[i] = NodeStake{Node: n, Escrow: bal}
			byID[string(n.ID)] = n
		}
		poolAcct := ledger.Pool(r.ID)
		pool, err := tx.Balance(poolAcct)
		if err != nil {
			return err
		}
		s := Tally(stakes, pool)

		for _, id := range s.NonRevealers {
			n := byID[string(id)]
			amount, err := forfeit(tx, n, poolAcct, SlashReasonNonReveal)
			if err != nil {
				return err
			}
			events.emit(NodeSlashed{Round: r.ID, Node: n.ID, Reason: SlashReasonNonReveal, Amount: amount})
		}
		for _, id := range s.Minority {
			escrow := ledger.Escrow(id)
			bal, err := tx.Balance(escrow)
			if err != nil {
				return err
			}
			if err := ledger.Transfer(tx, escrow, poolAcct, bal); err != nil {
				return fmt.Errorf("forfeit minority node %s: %w", id, err)
			}
		}
		for _, p := range s.Payouts {
			wallet := ledger.Wallet(p.Owner)
			if err := ledger.Transfer(tx, ledger.Escrow(p.Node), wallet, p.Refund); err != nil {
				return fmt.Errorf("refund node %s: %w", p.Node, err)
			}
			if err := ledger.Transfer(tx, poolAcct, wallet, p.Reward); err != nil {
				return fmt.Errorf("reward node %s: %w", p.Node, err)
			}
		}

		r.Withdrawn += s.Paid()
		r.Resolved = true
		r.ResolutionBit = s.ResolutionBit
		r.Phase = PhaseComplete
		if err := tx.PutRound(r); err != nil {
			return err
		}
		if err := checkConservation(tx, r); err != nil {
			return err
		}
		events.emit(PhaseChanged{Round: r.ID, From: PhaseReveal, To: PhaseComplete, RevealDeadline: r.RevealDeadline, At: now})
		events.emit(RoundResolved{Round: r.ID, Settlement: s})
		settled = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("round resolved", "round", roundID, "caller", caller,
		"bit", settled.ResolutionBit, "true", settled.TrueVotes, "false", settled.FalseVotes,
		"consensus", settled.ConsensusCount, "reward", settled.RewardPerNode, "dust", settled.Dust)
	return &settled, nil
}

// nodeSet loads and validates a caller-supplied node list: every id must be a
// node of r, listed once, and together they must cover the round.
func nodeSet(tx Tx, r *Round, ids []Address) ([]*Node, error) {
	if uint64(len(ids)) != r.TotalNodes {
		return nil, fmt.Errorf("%d nodes listed, round %s has %d: %w", len(ids), r.ID, r.TotalNodes, ErrNodeSetMismatch)
	}
	seen := make(map[string]struct{}, len(ids))
	nodes := make([]*Node, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[string(id)]; dup {
			return nil, fmt.Errorf("node %s: %w", id, ErrDuplicateNode)
		}
		seen[string(id)] = struct{}{}
		n, err := tx.GetNode(id)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", id, err)
		}
		if !n.BelongsTo(r.ID) {
			return nil, fmt.Errorf("node %s in round %s: %w", id, r.ID, ErrNodeNotInRound)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}
