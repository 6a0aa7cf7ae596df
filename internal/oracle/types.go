// Package oracle implements a commit-reveal binary oracle round: staked nodes
// commit to a hidden boolean, reveal it, and the round settles on the
// majority bit. Provable leaks and silent nodes forfeit their stake.
package oracle

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/cometbft/cometbft/crypto"
)

// Address identifies callers, rounds and nodes.
type Address = crypto.Address

// Phase of a round. Phases only move forward.
type Phase uint8

const (
	PhasePrecommit Phase = iota
	PhaseCommit
	PhaseReveal
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhasePrecommit:
		return "precommit"
	case PhaseCommit:
		return "commit"
	case PhaseReveal:
		return "reveal"
	case PhaseComplete:
		return "complete"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// SlashPolicy decides where stake taken by SlashColluding goes.
type SlashPolicy uint8

const (
	// SlashToPool moves slashed stake into the round pool, redistributed at
	// Resolve to the consensus side.
	SlashToPool SlashPolicy = iota
	// SlashToSlasher pays slashed stake to the wallet of whoever produced
	// the proof.
	SlashToSlasher
)

func (p SlashPolicy) String() string {
	switch p {
	case SlashToPool:
		return "pool"
	case SlashToSlasher:
		return "slasher"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

// ParseSlashPolicy accepts the names produced by String.
func ParseSlashPolicy(s string) (SlashPolicy, error) {
	switch s {
	case "pool", "":
		return SlashToPool, nil
	case "slasher", "bounty":
		return SlashToSlasher, nil
	default:
		return 0, fmt.Errorf("unknown slash policy %q", s)
	}
}

// SlashReason records why a node was slashed.
type SlashReason string

const (
	SlashReasonCollusion SlashReason = "collusion"
	SlashReasonNonReveal SlashReason = "non-reveal"
)

// MaxRevealWindow is the longest reveal window a round accepts, ten years in
// seconds.
const MaxRevealWindow int64 = 10 * 365 * 24 * 60 * 60

// Params are fixed at Initialize.
type Params struct {
	Collateral   uint64
	RevealWindow int64 // seconds
	MaxNodes     uint64
	SlashPolicy  SlashPolicy
}

func (p Params) validate() error {
	if p.Collateral == 0 {
		return fmt.Errorf("collateral must be positive: %w", ErrInvalidParams)
	}
	if p.RevealWindow <= 0 {
		return fmt.Errorf("reveal window must be positive: %w", ErrInvalidParams)
	}
	if p.RevealWindow > MaxRevealWindow {
		return fmt.Errorf("reveal window %ds exceeds %ds: %w", p.RevealWindow, MaxRevealWindow, ErrInvalidParams)
	}
	if p.SlashPolicy > SlashToSlasher {
		return fmt.Errorf("slash policy %d: %w", p.SlashPolicy, ErrInvalidParams)
	}
	return nil
}

// Round is one oracle inquiry.
type Round struct {
	ID             Address     `json:"id"`
	Authority      Address     `json:"authority"`
	Collateral     uint64      `json:"collateral"`
	RevealWindow   int64       `json:"reveal_window"`
	MaxNodes       uint64      `json:"max_nodes"`
	SlashPolicy    SlashPolicy `json:"slash_policy"`
	Phase          Phase       `json:"phase"`
	RevealDeadline int64       `json:"reveal_deadline"`
	TotalNodes     uint64      `json:"total_nodes"`
	CommittedNodes uint64      `json:"committed_nodes"`
	Resolved       bool        `json:"resolved"`
	ResolutionBit  bool        `json:"resolution_bit"`
	// Deposited and Withdrawn count value entering and leaving round custody
	// (node escrows plus pool).
	Deposited uint64 `json:"deposited"`
	Withdrawn uint64 `json:"withdrawn"`
	Version   uint64 `json:"version"`
}

// Capped reports whether the round limits its node count.
func (r *Round) Capped() bool { return r.MaxNodes > 0 }

// Node is one staked participant of a round.
type Node struct {
	ID          Address     `json:"id"`
	Round       Address     `json:"round"`
	Owner       Address     `json:"owner"`
	Stake       uint64      `json:"stake"`
	Commitment  *Commitment `json:"commitment,omitempty"`
	Vote        *bool       `json:"vote,omitempty"`
	Slashed     bool        `json:"slashed"`
	SlashReason SlashReason `json:"slash_reason,omitempty"`
	Version     uint64      `json:"version"`
}

func (n *Node) Committed() bool { return n.Commitment != nil }

func (n *Node) Revealed() bool { return n.Vote != nil }

// BelongsTo reports whether the node was created in round id.
func (n *Node) BelongsTo(id Address) bool { return bytes.Equal(n.Round, id) }

// NodeID derives the node identity of owner in round. An owner can hold at
// most one node per round.
func NodeID(round, owner Address) Address {
	bz := make([]byte, 0, 4+len(round)+len(owner))
	bz = append(bz, "node"...)
	bz = append(bz, round...)
	bz = append(bz, owner...)
	return crypto.AddressHash(bz)
}

// ParseAddress decodes the hex form produced by Address.String.
func ParseAddress(s string) (Address, error) {
	bz, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("address %q: %w", s, err)
	}
	return Address(bz), nil
}

func sameAddress(a, b Address) bool { return bytes.Equal(a, b) }
