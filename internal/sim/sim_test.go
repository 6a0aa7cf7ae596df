package sim

import (
	"context"
	"testing"
	"time"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commit-reveal-oracle/internal/config"
	"commit-reveal-oracle/internal/moniker"
	"commit-reveal-oracle/internal/oracle"
	"commit-reveal-oracle/internal/store"
)

func baseConfig() config.Config {
	return config.Config{
		Collateral:   1000,
		RevealWindow: time.Hour,
		MaxNodes:     8,
		SlashPolicy:  "pool",
		SimNodes:     5,
		SimTruth:     true,
		SimLiars:     1,
		SimSilent:    1,
		SimLeakers:   1,
	}
}

func run(t *testing.T, cfg config.Config) *Report {
	t.Helper()
	require.NoError(t, cfg.Validate())
	kv := store.NewKV(dbm.NewMemDB(), nil)
	t.Cleanup(func() { _ = kv.Close() })
	clock := oracle.NewManualClock(1_700_000_000)
	eng := oracle.NewEngine(kv, clock)
	report, err := New(cfg, eng, clock, moniker.NewResolver(nil), nil).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report.Settlement)
	assert.Equal(t, report.Deposited-report.Withdrawn, report.Custody)
	return report
}

func TestMixedRoundToPool(t *testing.T) {
	report := run(t, baseConfig())

	roles := map[Role]int{}
	for _, p := range report.Participants {
		roles[p.Role]++
	}
	assert.Equal(t, map[Role]int{RoleLiar: 1, RoleSilent: 1, RoleLeaker: 1, RoleHonest: 2}, roles)

	s := report.Settlement
	assert.True(t, s.ResolutionBit)
	assert.Equal(t, uint64(2), s.TrueVotes)
	assert.Equal(t, uint64(1), s.FalseVotes)
	assert.Equal(t, uint64(2000), s.Forfeited)
	assert.Equal(t, uint64(3000), s.Pool)
	assert.Equal(t, uint64(1500), s.RewardPerNode)
	assert.Zero(t, s.Dust)
	assert.Len(t, s.NonRevealers, 1)
	assert.Len(t, s.Minority, 1)

	assert.Equal(t, map[string]uint64{
		"node-1": 0, "node-2": 0, "node-3": 0, "node-4": 2500, "node-5": 2500,
	}, report.Wallets)
	assert.Equal(t, uint64(5000), report.Deposited)
	assert.Equal(t, uint64(5000), report.Withdrawn)
	assert.Zero(t, report.Custody)

	assert.ElementsMatch(t, []string{
		"join without funds",
		"join after the commit phase",
		"slash with a wrong preimage",
		"resolve before the deadline",
		"reveal by a slashed node",
		"reveal after the deadline",
		"resolve with a duplicated node",
	}, report.Rejected)
}

func TestMixedRoundBounty(t *testing.T) {
	cfg := baseConfig()
	cfg.SlashPolicy = "slasher"
	report := run(t, cfg)

	assert.Equal(t, uint64(1000), report.Settlement.RewardPerNode)
	// node-4 reported the leaker and keeps the bounty.
	assert.Equal(t, uint64(3000), report.Wallets["node-4"])
	assert.Equal(t, uint64(2000), report.Wallets["node-5"])
	assert.Equal(t, uint64(5000), report.Withdrawn)
	assert.Contains(t, report.Rejected, "join after the commit phase")
}

func TestUnanimousRoundAtCap(t *testing.T) {
	cfg := baseConfig()
	cfg.SimNodes, cfg.MaxNodes = 3, 3
	cfg.SimLiars, cfg.SimSilent, cfg.SimLeakers = 0, 0, 0
	cfg.SimTruth = false
	report := run(t, cfg)

	s := report.Settlement
	assert.False(t, s.ResolutionBit)
	assert.Equal(t, uint64(3), s.ConsensusCount)
	assert.Zero(t, s.RewardPerNode)
	for name, bal := range report.Wallets {
		assert.Equal(t, uint64(1000), bal, name)
	}
	assert.Contains(t, report.Rejected, "join beyond the node cap")
	assert.Contains(t, report.Rejected, "join after the commit phase")
	assert.NotContains(t, report.Rejected, "join without funds")
	assert.Len(t, report.Participants, 3)
}

func TestSingleNode(t *testing.T) {
	cfg := baseConfig()
	cfg.SimNodes = 1
	cfg.SimLiars, cfg.SimSilent, cfg.SimLeakers = 0, 0, 0
	report := run(t, cfg)
	assert.Equal(t, uint64(1), report.Settlement.ConsensusCount)
	assert.Contains(t, report.Rejected, "join after the commit phase")
	assert.NotContains(t, report.Rejected, "resolve with a duplicated node")
	assert.Equal(t, uint64(1000), report.Deposited)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := baseConfig()
	cfg.SimStepDelay = time.Hour
	kv := store.NewKV(dbm.NewMemDB(), nil)
	t.Cleanup(func() { _ = kv.Close() })
	clock := oracle.NewManualClock(1_700_000_000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(cfg, oracle.NewEngine(kv, clock), clock, moniker.NewResolver(nil), nil).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRoleString(t *testing.T) {
	assert.Equal(t, "leaker", RoleLeaker.String())
	assert.Equal(t, "role(9)", Role(9).String())
}
