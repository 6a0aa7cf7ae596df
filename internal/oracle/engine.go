package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	cmtlog "github.com/cometbft/cometbft/libs/log"

	"commit-reveal-oracle/internal/ledger"
)

// Engine applies oracle operations against a Store. Each operation is a
// single transaction: it either commits every state and balance change or
// none of them. Operations are serialized by the engine; the store's version
// checks catch writers that bypass it.
type Engine struct {
	mu        sync.Mutex
	store     Store
	clock     Clock
	publisher Publisher
	logger    cmtlog.Logger
}

type Option func(*Engine)

func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.publisher = p
		}
	}
}

func WithLogger(l cmtlog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func NewEngine(store Store, clock Clock, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		clock:     clock,
		publisher: nopPublisher{},
		logger:    cmtlog.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("module", "oracle")
	return e
}

// txEvents collects events raised inside a transaction; they are only
// published once the transaction has committed.
type txEvents []Event

func (t *txEvents) emit(ev Event) { *t = append(*t, ev) }

func (e *Engine) update(ctx context.Context, op string, fn func(tx Tx, events *txEvents) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var events txEvents
	err := e.store.Update(ctx, func(tx Tx) error {
		events = events[:0]
		return fn(tx, &events)
	})
	if err != nil {
		e.logger.Debug("operation rejected", "op", op, "err", err)
		return err
	}
	for _, ev := range events {
		if perr := e.publisher.Publish(ctx, ev); perr != nil {
			e.logger.Error("publish event", "op", op, "event", ev.EventType(), "err", perr)
		}
	}
	return nil
}

func (e *Engine) view(ctx context.Context, fn func(tx Tx) error) error {
	return e.store.View(ctx, fn)
}

// Fund credits owner's wallet with value from outside the system.
func (e *Engine) Fund(ctx context.Context, owner Address, amount uint64) error {
	return e.update(ctx, "fund", func(tx Tx, _ *txEvents) error {
		return ledger.Deposit(tx, ledger.Wallet(owner), amount)
	})
}

// Now is the engine's current time in unix seconds.
func (e *Engine) Now() int64 { return e.clock.Now() }

// Round returns the current state of a round.
func (e *Engine) Round(ctx context.Context, id Address) (*Round, error) {
	var r *Round
	err := e.view(ctx, func(tx Tx) error {
		var err error
		r, err = tx.GetRound(id)
		return err
	})
	return r, err
}

// Node returns the current state of a node.
func (e *Engine) Node(ctx context.Context, id Address) (*Node, error) {
	var n *Node
	err := e.view(ctx, func(tx Tx) error {
		var err error
		n, err = tx.GetNode(id)
		return err
	})
	return n, err
}

// Nodes lists the nodes of a round ordered by id. The result is a suitable
// node set for Resolve.
func (e *Engine) Nodes(ctx context.Context, round Address) ([]*Node, error) {
	var nodes []*Node
	err := e.view(ctx, func(tx Tx) error {
		var err error
		nodes, err = tx.ListNodes(round)
		return err
	})
	return nodes, err
}

// NodeIDs is Nodes reduced to identities.
func (e *Engine) NodeIDs(ctx context.Context, round Address) ([]Address, error) {
	nodes, err := e.Nodes(ctx, round)
	if err != nil {
		return nil, err
	}
	ids := make([]Address, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids, nil
}

// Balance reads a ledger account.
func (e *Engine) Balance(ctx context.Context, acct ledger.Account) (uint64, error) {
	var bal uint64
	err := e.view(ctx, func(tx Tx) error {
		var err error
		bal, err = tx.Balance(acct)
		return err
	})
	return bal, err
}

// Custody returns the value currently held by a round: its pool plus the
// escrow of every node.
func (e *Engine) Custody(ctx context.Context, round Address) (uint64, error) {
	var total uint64
	err := e.view(ctx, func(tx Tx) error {
		nodes, err := tx.ListNodes(round)
		if err != nil {
			return err
		}
		total, err = custody(tx, round, nodes)
		return err
	})
	return total, err
}

func custody(tx Tx, round Address, nodes []*Node) (uint64, error) {
	accounts := make([]ledger.Account, 0, len(nodes)+1)
	accounts = append(accounts, ledger.Pool(round))
	for _, n := range nodes {
		accounts = append(accounts, ledger.Escrow(n.ID))
	}
	return ledger.Total(tx, accounts...)
}

// checkConservation verifies that the round holds exactly what entered it
// minus what it paid out.
func checkConservation(tx Tx, r *Round) error {
	nodes, err := tx.ListNodes(r.ID)
	if err != nil {
		return err
	}
	held, err := custody(tx, r.ID, nodes)
	if err != nil {
		return err
	}
	if r.Withdrawn > r.Deposited || held != r.Deposited-r.Withdrawn {
		return fmt.Errorf("round %s holds %d, deposited %d, withdrawn %d: %w",
			r.ID, held, r.Deposited, r.Withdrawn, ErrConservation)
	}
	return nil
}

func loadRound(tx Tx, id Address) (*Round, error) {
	r, err := tx.GetRound(id)
	if err != nil {
		return nil, fmt.Errorf("round %s: %w", id, err)
	}
	return r, nil
}

// loadNode returns the node and its round. A missing node maps to
// ErrNodeNotJoined, since nodes only come into existence through Join.
func loadNode(tx Tx, id Address) (*Node, *Round, error) {
	n, err := tx.GetNode(id)
	if err != nil {
		if errors.Is(err, ErrNodeNotFound) {
			return nil, nil, fmt.Errorf("node %s: %w", id, ErrNodeNotJoined)
		}
		return nil, nil, fmt.Errorf("node %s: %w", id, err)
	}
	r, err := loadRound(tx, n.Round)
	if err != nil {
		return nil, nil, err
	}
	return n, r, nil
}
