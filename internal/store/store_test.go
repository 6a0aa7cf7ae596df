package store

import (
	"context"
	"errors"
	"testing"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/cometbft/cometbft/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commit-reveal-oracle/internal/ledger"
	"commit-reveal-oracle/internal/oracle"
)

func addr(s string) oracle.Address { return crypto.AddressHash([]byte(s)) }

// testStoreContract runs the behaviour every oracle.Store must share.
func testStoreContract(t *testing.T, s oracle.Store) {
	ctx := context.Background()
	roundID := addr("round")

	t.Run("round create and read back", func(t *testing.T) {
		r := &oracle.Round{ID: roundID, Authority: addr("authority"), Collateral: 10, RevealWindow: 5}
		require.NoError(t, s.Update(ctx, func(tx oracle.Tx) error { return tx.PutRound(r) }))
		assert.Equal(t, uint64(1), r.Version)

		var got *oracle.Round
		require.NoError(t, s.View(ctx, func(tx oracle.Tx) error {
			var err error
			got, err = tx.GetRound(roundID)
			return err
		}))
		assert.Equal(t, r.ID, got.ID)
		assert.Equal(t, r.Authority, got.Authority)
		assert.Equal(t, uint64(10), got.Collateral)
		assert.Equal(t, uint64(1), got.Version)
	})

	t.Run("missing records", func(t *testing.T) {
		err := s.View(ctx, func(tx oracle.Tx) error {
			_, err := tx.GetRound(addr("nope"))
			return err
		})
		assert.ErrorIs(t, err, oracle.ErrRoundNotFound)
		err = s.View(ctx, func(tx oracle.Tx) error {
			_, err := tx.GetNode(addr("nope"))
			return err
		})
		assert.ErrorIs(t, err, oracle.ErrNodeNotFound)
	})

	t.Run("version conflicts", func(t *testing.T) {
		dup := &oracle.Round{ID: roundID, Collateral: 1, RevealWindow: 1}
		err := s.Update(ctx, func(tx oracle.Tx) error { return tx.PutRound(dup) })
		assert.ErrorIs(t, err, oracle.ErrConflict)

		stale := &oracle.Round{ID: roundID, Collateral: 1, RevealWindow: 1, Version: 7}
		err = s.Update(ctx, func(tx oracle.Tx) error { return tx.PutRound(stale) })
		assert.ErrorIs(t, err, oracle.ErrConflict)

		ghost := &oracle.Node{ID: addr("ghost"), Round: roundID, Owner: addr("o"), Version: 3}
		err = s.Update(ctx, func(tx oracle.Tx) error { return tx.PutNode(ghost) })
		assert.ErrorIs(t, err, oracle.ErrConflict)
	})

	t.Run("failed update keeps nothing", func(t *testing.T) {
		boom := errors.New("boom")
		err := s.Update(ctx, func(tx oracle.Tx) error {
			if err := tx.SetBalance(ledger.Wallet(addr("w")), 99); err != nil {
				return err
			}
			n := &oracle.Node{ID: addr("rolled-back"), Round: roundID, Owner: addr("w")}
			if err := tx.PutNode(n); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		require.NoError(t, s.View(ctx, func(tx oracle.Tx) error {
			bal, err := tx.Balance(ledger.Wallet(addr("w")))
			require.NoError(t, err)
			assert.Zero(t, bal)
			_, err = tx.GetNode(addr("rolled-back"))
			assert.ErrorIs(t, err, oracle.ErrNodeNotFound)
			return nil
		}))
	})

	t.Run("balances", func(t *testing.T) {
		acct := ledger.Escrow(addr("escrowed"))
		require.NoError(t, s.Update(ctx, func(tx oracle.Tx) error {
			if err := tx.SetBalance(acct, 40); err != nil {
				return err
			}
			bal, err := tx.Balance(acct)
			require.NoError(t, err)
			assert.Equal(t, uint64(40), bal)
			return tx.SetBalance(acct, 41)
		}))
		require.NoError(t, s.Update(ctx, func(tx oracle.Tx) error {
			bal, err := tx.Balance(acct)
			require.NoError(t, err)
			assert.Equal(t, uint64(41), bal)
			return tx.SetBalance(acct, 0)
		}))
		require.NoError(t, s.View(ctx, func(tx oracle.Tx) error {
			bal, err := tx.Balance(acct)
			require.NoError(t, err)
			assert.Zero(t, bal)
			return nil
		}))
	})

	t.Run("nodes listed in id order", func(t *testing.T) {
		owners := []string{"carol", "alice", "bob"}
		require.NoError(t, s.Update(ctx, func(tx oracle.Tx) error {
			for _, o := range owners[:2] {
				n := &oracle.Node{ID: oracle.NodeID(roundID, addr(o)), Round: roundID, Owner: addr(o), Stake: 10}
				if err := tx.PutNode(n); err != nil {
					return err
				}
			}
			return nil
		}))
		require.NoError(t, s.Update(ctx, func(tx oracle.Tx) error {
			c := oracle.NewCommitment(true, oracle.Nonce{1})
			n := &oracle.Node{ID: oracle.NodeID(roundID, addr("bob")), Round: roundID, Owner: addr("bob"), Stake: 10, Commitment: &c}
			if err := tx.PutNode(n); err != nil {
				return err
			}
			// pending writes are visible to the same transaction
			nodes, err := tx.ListNodes(roundID)
			require.NoError(t, err)
			assert.Len(t, nodes, 3)
			return nil
		}))

		var nodes []*oracle.Node
		require.NoError(t, s.View(ctx, func(tx oracle.Tx) error {
			var err error
			nodes, err = tx.ListNodes(roundID)
			return err
		}))
		require.Len(t, nodes, 3)
		for i := 1; i < len(nodes); i++ {
			assert.Less(t, nodes[i-1].ID.String(), nodes[i].ID.String())
		}
		for _, n := range nodes {
			if n.Owner.String() == addr("bob").String() {
				require.NotNil(t, n.Commitment)
				assert.True(t, n.Commitment.Opens(true, oracle.Nonce{1}))
			} else {
				assert.Nil(t, n.Commitment)
			}
		}
	})

	t.Run("node update bumps version", func(t *testing.T) {
		id := oracle.NodeID(roundID, addr("alice"))
		require.NoError(t, s.Update(ctx, func(tx oracle.Tx) error {
			n, err := tx.GetNode(id)
			if err != nil {
				return err
			}
			v := false
			n.Vote = &v
			before := n.Version
			if err := tx.PutNode(n); err != nil {
				return err
			}
			assert.Equal(t, before+1, n.Version)
			return nil
		}))
		require.NoError(t, s.View(ctx, func(tx oracle.Tx) error {
			n, err := tx.GetNode(id)
			require.NoError(t, err)
			require.NotNil(t, n.Vote)
			assert.False(t, *n.Vote)
			assert.Equal(t, uint64(2), n.Version)
			return nil
		}))
	})

	t.Run("view rejects writes", func(t *testing.T) {
		err := s.View(ctx, func(tx oracle.Tx) error {
			return tx.SetBalance(ledger.Wallet(addr("x")), 1)
		})
		assert.Error(t, err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := s.Update(cctx, func(tx oracle.Tx) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestKVMemDB(t *testing.T) {
	s := NewKV(dbm.NewMemDB(), nil)
	defer s.Close()
	testStoreContract(t, s)
}

func TestKVGoLevelDB(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenKV(string(dbm.GoLevelDBBackend), dir, nil)
	require.NoError(t, err)
	testStoreContract(t, s)
	require.NoError(t, s.Close())

	// state survives a reopen
	s, err = OpenKV(string(dbm.GoLevelDBBackend), dir, nil)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.View(context.Background(), func(tx oracle.Tx) error {
		nodes, err := tx.ListNodes(addr("round"))
		require.NoError(t, err)
		assert.Len(t, nodes, 3)
		return nil
	}))
}

func TestOpenKVUnknownBackend(t *testing.T) {
	_, err := OpenKV("floppy", t.TempDir(), nil)
	assert.Error(t, err)
}

func TestPrefixEnd(t *testing.T) {
	cases := []struct {
		in, want []byte
	}{
		{[]byte("node/"), []byte("node0")},
		{[]byte{0x01, 0xff}, []byte{0x02}},
		{[]byte{0xff, 0xff}, nil},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, prefixEnd(c.in), "prefix %x", c.in)
	}
}

func TestKVCorruptBalance(t *testing.T) {
	db := dbm.NewMemDB()
	acct := ledger.Wallet(addr("w"))
	require.NoError(t, db.Set(balanceKey(acct), []byte{1, 2, 3}))
	s := NewKV(db, nil)
	err := s.View(context.Background(), func(tx oracle.Tx) error {
		_, err := tx.Balance(acct)
		return err
	})
	assert.Error(t, err)
}
