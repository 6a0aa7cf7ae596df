package oracle

import (
	"fmt"
	"testing"

	"github.com/cometbft/cometbft/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commit-reveal-oracle/internal/ledger"
)

func stake(name string, vote *bool, slashed bool, escrow uint64) NodeStake {
	n := &Node{
		ID:      crypto.AddressHash([]byte("node-" + name)),
		Owner:   crypto.AddressHash([]byte("owner-" + name)),
		Stake:   100,
		Vote:    vote,
		Slashed: slashed,
	}
	c := NewCommitment(false, Nonce{})
	n.Commitment = &c
	return NodeStake{Node: n, Escrow: escrow}
}

func ptr(b bool) *bool { return &b }

func TestTally(t *testing.T) {
	tests := []struct {
		name       string
		nodes      []NodeStake
		pool       uint64
		bit        bool
		consensus  uint64
		reward     uint64
		dust       uint64
		forfeited  uint64
		nonReveals int
		minority   int
	}{
		{
			name:      "unanimous true, nothing forfeited",
			nodes:     []NodeStake{stake("a", ptr(true), false, 100), stake("b", ptr(true), false, 100), stake("c", ptr(true), false, 100)},
			bit:       true,
			consensus: 3,
		},
		{
			name:       "silent node funds the revealer",
			nodes:      []NodeStake{stake("a", ptr(true), false, 100), stake("b", nil, false, 100)},
			bit:        true,
			consensus:  1,
			reward:     100,
			forfeited:  100,
			nonReveals: 1,
		},
		{
			name:      "tie resolves to false",
			nodes:     []NodeStake{stake("a", ptr(true), false, 100), stake("b", ptr(false), false, 100)},
			bit:       false,
			consensus: 1,
			reward:    100,
			forfeited: 100,
			minority:  1,
		},
		{
			name:      "slashed nodes are skipped",
			nodes:     []NodeStake{stake("a", ptr(true), false, 100), stake("b", nil, true, 0), stake("c", ptr(false), true, 0)},
			pool:      200,
			bit:       true,
			consensus: 1,
			reward:    200,
		},
		{
			name:       "dust stays in the pool",
			nodes:      []NodeStake{stake("a", ptr(true), false, 100), stake("b", ptr(true), false, 100), stake("c", ptr(true), false, 100), stake("d", nil, false, 100)},
			bit:        true,
			consensus:  3,
			reward:     33,
			dust:       1,
			forfeited:  100,
			nonReveals: 1,
		},
		{
			name:       "nobody revealed",
			nodes:      []NodeStake{stake("a", nil, false, 100), stake("b", nil, false, 100)},
			pool:       5,
			bit:        false,
			consensus:  0,
			forfeited:  200,
			nonReveals: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Tally(tt.nodes, tt.pool)
			assert.Equal(t, tt.bit, s.ResolutionBit)
			assert.Equal(t, tt.consensus, s.ConsensusCount)
			assert.Equal(t, tt.reward, s.RewardPerNode)
			assert.Equal(t, tt.dust, s.Dust)
			assert.Equal(t, tt.forfeited, s.Forfeited)
			assert.Len(t, s.NonRevealers, tt.nonReveals)
			assert.Len(t, s.Minority, tt.minority)
			require.Len(t, s.Payouts, int(tt.consensus))

			var rewards uint64
			for _, p := range s.Payouts {
				rewards += p.Reward
			}
			assert.LessOrEqual(t, rewards, s.Pool, "never pays more than the pool")
			if s.ConsensusCount > 0 {
				assert.Equal(t, s.Pool, rewards+s.Dust)
			}
		})
	}
}

func TestTallyIsDeterministic(t *testing.T) {
	var nodes []NodeStake
	for i := 0; i < 9; i++ {
		var vote *bool
		if i%4 != 3 {
			vote = ptr(i%3 != 0)
		}
		nodes = append(nodes, stake(fmt.Sprint(i), vote, i == 8, 1000))
	}
	first := Tally(nodes, 17)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Tally(nodes, 17))
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		kind ErrorKind
	}{
		{nil, KindNone},
		{fmt.Errorf("wrapped: %w", ErrRevealPhaseClosed), KindPhase},
		{ErrAlreadyRevealed, KindState},
		{ErrUnauthorizedAccess, KindAuthorization},
		{ErrMaxNodesReached, KindCapacity},
		{ErrInvalidCollusion, KindProof},
		{fmt.Errorf("escrow: %w", ledger.ErrInsufficientFunds), KindFunds},
		{ErrConflict, KindStorage},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.kind, Kind(tt.err), "%v", tt.err)
	}
}
