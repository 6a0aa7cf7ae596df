package events

import (
	"context"
	"testing"
	"time"

	"github.com/cometbft/cometbft/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commit-reveal-oracle/internal/oracle"
)

func startBus(t *testing.T) *Bus {
	t.Helper()
	b := NewBus(nil)
	require.NoError(t, b.Start())
	t.Cleanup(func() { _ = b.Stop() })
	return b
}

func TestBusFiltersByEventType(t *testing.T) {
	b := startBus(t)
	ctx := context.Background()
	round := crypto.AddressHash([]byte("round"))
	node := crypto.AddressHash([]byte("node"))

	sub, err := b.Subscribe(ctx, "test", QueryForEvent(oracle.EventNodeSlashed), 10)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, oracle.NodeJoined{Round: round, Node: node, Stake: 5}))
	slashed := oracle.NodeSlashed{Round: round, Node: node, Reason: oracle.SlashReasonNonReveal, Amount: 5}
	require.NoError(t, b.Publish(ctx, slashed))

	select {
	case msg := <-sub.Out():
		assert.Equal(t, slashed, msg.Data())
		assert.Equal(t, []string{node.String()}, msg.Events()[NodeKey])
		assert.Equal(t, []string{round.String()}, msg.Events()[RoundKey])
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
	select {
	case msg := <-sub.Out():
		t.Fatalf("unexpected event %T", msg.Data())
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBusFiltersByRound(t *testing.T) {
	b := startBus(t)
	ctx := context.Background()
	mine := crypto.AddressHash([]byte("mine"))
	other := crypto.AddressHash([]byte("other"))

	sub, err := b.Subscribe(ctx, "test", QueryForRound(oracle.EventPhaseChanged, mine), 10)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, oracle.PhaseChanged{Round: other, From: oracle.PhasePrecommit, To: oracle.PhaseCommit}))
	require.NoError(t, b.Publish(ctx, oracle.PhaseChanged{Round: mine, From: oracle.PhaseCommit, To: oracle.PhaseReveal}))

	select {
	case msg := <-sub.Out():
		ev := msg.Data().(oracle.PhaseChanged)
		assert.Equal(t, mine, ev.Round)
		assert.Equal(t, oracle.PhaseReveal, ev.To)
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}

	require.NoError(t, b.UnsubscribeAll(ctx, "test"))
	select {
	case <-sub.Canceled():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not cancelled")
	}
}

func TestNodeOf(t *testing.T) {
	node := crypto.AddressHash([]byte("n"))
	assert.Equal(t, node, NodeOf(oracle.NodeRevealed{Node: node}))
	assert.Nil(t, NodeOf(oracle.RoundResolved{}))
}

func TestQueryAllKeepsPublishOrder(t *testing.T) {
	b := startBus(t)
	ctx := context.Background()
	round := crypto.AddressHash([]byte("round"))

	sub, err := b.Subscribe(ctx, "all", QueryAll(), 10)
	require.NoError(t, err)

	sent := []oracle.Event{
		oracle.PhaseChanged{Round: round, From: oracle.PhasePrecommit, To: oracle.PhaseCommit},
		oracle.NodeRevealed{Round: round, Node: round, Vote: true},
		oracle.RoundResolved{Round: round},
	}
	for _, ev := range sent {
		require.NoError(t, b.Publish(ctx, ev))
	}
	for _, want := range sent {
		select {
		case msg := <-sub.Out():
			assert.Equal(t, want.EventType(), msg.Data().(oracle.Event).EventType())
		case <-time.After(2 * time.Second):
			t.Fatalf("missing %s", want.EventType())
		}
	}
}
