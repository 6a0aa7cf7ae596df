package collector

import (
	"context"
	"strings"
	"testing"
	"time"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/cometbft/cometbft/crypto"
	"github.com/cometbft/cometbft/crypto/ed25519"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commit-reveal-oracle/internal/config"
	"commit-reveal-oracle/internal/events"
	"commit-reveal-oracle/internal/moniker"
	"commit-reveal-oracle/internal/oracle"
	"commit-reveal-oracle/internal/store"
	"commit-reveal-oracle/internal/tui"
)

const testCollateral = 1001

type voter struct {
	owner oracle.Address
	node  oracle.Address
	vote  bool
	nonce oracle.Nonce
}

func TestCollectorFollowsRound(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus(nil)
	require.NoError(t, bus.Start())
	t.Cleanup(func() { _ = bus.Stop() })

	kv := store.NewKV(dbm.NewMemDB(), nil)
	t.Cleanup(func() { _ = kv.Close() })
	clock := oracle.NewManualClock(10_000)
	eng := oracle.NewEngine(kv, clock, oracle.WithPublisher(bus))
	monres := moniker.NewResolver([]string{"alpha", "beta", "gamma"})

	tuiCh := make(chan interface{}, 4096)
	cfg := config.Config{StoreBackend: "memdb"}
	coll := NewCollector(cfg, nil, bus, eng, monres, tuiCh, nil)

	runDone := make(chan error, 1)
	go func() { runDone <- coll.Run(ctx) }()
	select {
	case <-coll.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("collector never subscribed")
	}

	authority := ed25519.GenPrivKey().PubKey().Address()
	round := crypto.AddressHash([]byte("collector-round"))
	_, err := eng.Initialize(ctx, authority, round, oracle.Params{Collateral: testCollateral, RevealWindow: 30})
	require.NoError(t, err)

	var voters []*voter
	for _, vote := range []bool{true, true, false} {
		pub := ed25519.GenPrivKey().PubKey()
		monres.Register(pub)
		v := &voter{owner: pub.Address(), vote: vote}
		v.nonce, err = oracle.NewNonce()
		require.NoError(t, err)
		require.NoError(t, eng.Fund(ctx, v.owner, testCollateral))
		n, err := eng.JoinNetwork(ctx, v.owner, round)
		require.NoError(t, err)
		v.node = n.ID
		voters = append(voters, v)
	}
	require.NoError(t, eng.StartRequest(ctx, authority, round))
	for _, v := range voters {
		require.NoError(t, eng.Commit(ctx, v.owner, v.node, oracle.NewCommitment(v.vote, v.nonce)))
	}
	for _, v := range voters {
		require.NoError(t, eng.Reveal(ctx, v.owner, v.node, v.vote, v.nonce))
	}
	clock.Advance(31)
	ids, err := eng.NodeIDs(ctx, round)
	require.NoError(t, err)
	_, err = eng.Resolve(ctx, authority, round, ids)
	require.NoError(t, err)

	select {
	case <-coll.Resolved():
	case <-time.After(5 * time.Second):
		t.Fatal("resolution never observed")
	}

	var (
		last  tui.RoundInfo
		nodes []tui.NodeInfo
		lines []string
	)
	for len(tuiCh) > 0 {
		switch v := (<-tuiCh).(type) {
		case tui.RoundInfo:
			last = v
		case []tui.NodeInfo:
			nodes = v
		case string:
			lines = append(lines, v)
		}
	}

	assert.Equal(t, "complete", last.Phase)
	assert.True(t, last.Resolved)
	assert.True(t, last.ResolutionBit)
	assert.Equal(t, uint64(3), last.RevealedNodes)
	assert.Equal(t, uint64(testCollateral/2), last.RewardPerNode)
	assert.Equal(t, uint64(1), last.Dust)
	assert.Equal(t, uint64(1), last.Pool)
	assert.Equal(t, "memdb", last.Store)

	require.Len(t, nodes, 3)
	names := map[string]bool{}
	for _, n := range nodes {
		names[n.Moniker] = true
		assert.Zero(t, n.Escrow)
	}
	assert.Equal(t, map[string]bool{"alpha": true, "beta": true, "gamma": true}, names)

	joined := strings.Join(lines, "\n")
	assert.Contains(t, joined, "alpha joined")
	assert.Contains(t, joined, "gamma revealed false")
	assert.Contains(t, joined, "resolved true: 2 true, 1 false")

	coll.votesMu.Lock()
	assert.Empty(t, coll.pendingVotes)
	coll.votesMu.Unlock()

	cancel()
	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("collector did not stop")
	}
}

func TestSendDropsWhenFull(t *testing.T) {
	ch := make(chan interface{}, 1)
	c := &Collector{tuiCh: ch}
	c.send("first")
	c.send("second")
	require.Len(t, ch, 1)
	assert.Equal(t, "first", <-ch)
}

func TestShortHex(t *testing.T) {
	assert.Equal(t, "ABCDEF01", shortHex("ABCDEF0123"))
	assert.Equal(t, "AB", shortHex("AB"))
}
