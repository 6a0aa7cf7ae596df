package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	cmtpubsub "github.com/cometbft/cometbft/libs/pubsub"
	"gorm.io/gorm"

	"commit-reveal-oracle/internal/config"
	"commit-reveal-oracle/internal/events"
	"commit-reveal-oracle/internal/ledger"
	"commit-reveal-oracle/internal/logger"
	"commit-reveal-oracle/internal/models"
	"commit-reveal-oracle/internal/moniker"
	"commit-reveal-oracle/internal/oracle"
	"commit-reveal-oracle/internal/tui"
)

const (
	// TUIChannelBufferSize is the buffer size for the TUI update channel
	TUIChannelBufferSize = 256
	// TUICloseDelay gives the TUI time to quit after its channel closes
	TUICloseDelay = 100 * time.Millisecond

	subscriberID         = "oracle-collector"
	subscriptionCapacity = 1000
	resubscribeDelay     = 500 * time.Millisecond
	voteBatchSize        = 1000
)

// Collector follows oracle events on the bus. It writes the audit trail to
// the database when one is configured and feeds snapshots to the TUI.
type Collector struct {
	cfg    config.Config
	db     *gorm.DB
	bus    *events.Bus
	engine *oracle.Engine
	monres *moniker.Resolver
	tuiCh  chan<- interface{}
	log    *logger.Logger

	ready     chan struct{}
	readyOnce sync.Once
	resolved  chan struct{}
	doneOnce  sync.Once

	// Votes accumulate per round and are written in one batch at the next
	// phase change.
	pendingVotes map[string][]*models.NodeVote
	votesMu      sync.Mutex

	settlements map[string]oracle.Settlement
}

// NewCollector wires a collector. db and tuiCh may be nil.
func NewCollector(cfg config.Config, db *gorm.DB, bus *events.Bus, engine *oracle.Engine,
	monres *moniker.Resolver, tuiCh chan<- interface{}, log *logger.Logger) *Collector {
	if log == nil {
		log = logger.New(false)
	}
	return &Collector{
		cfg:          cfg,
		db:           db,
		bus:          bus,
		engine:       engine,
		monres:       monres,
		tuiCh:        tuiCh,
		log:          log,
		ready:        make(chan struct{}),
		resolved:     make(chan struct{}),
		pendingVotes: make(map[string][]*models.NodeVote),
		settlements:  make(map[string]oracle.Settlement),
	}
}

// Ready is closed once the collector is subscribed. Events published
// before that are not seen.
func (c *Collector) Ready() <-chan struct{} { return c.ready }

// Resolved is closed after the first RoundResolved event has been handled.
func (c *Collector) Resolved() <-chan struct{} { return c.resolved }

func (c *Collector) Run(ctx context.Context) error {
	for {
		if err := c.runLoop(ctx); err != nil {
			if ctx.Err() != nil {
				return nil // Context cancelled, normal shutdown
			}
			c.log.Printf("Run loop error: %v, resubscribing...", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(resubscribeDelay):
			}
			continue
		}
		return nil
	}
}

func (c *Collector) runLoop(ctx context.Context) error {
	// A fresh context per subscription, so a resubscribe stops the old handler.
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub, err := c.bus.Subscribe(loopCtx, subscriberID, events.QueryAll(), subscriptionCapacity)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if sub == nil {
		return errors.New("subscribe: event bus stopped")
	}
	defer func() {
		// The server drops cancelled subscriptions itself.
		_ = c.bus.UnsubscribeAll(context.Background(), subscriberID)
	}()
	c.log.Printf("Subscribed to oracle events")
	c.readyOnce.Do(func() { close(c.ready) })

	return c.startEventHandler(loopCtx, "oracle", sub, func(msg cmtpubsub.Message) {
		ev, ok := msg.Data().(oracle.Event)
		if !ok {
			c.log.Printf("unknown event data type: %T", msg.Data())
			return
		}
		c.handleEvent(loopCtx, ev)
	})
}

// startEventHandler delivers messages from sub until ctx ends or the
// subscription is cancelled by the server.
func (c *Collector) startEventHandler(ctx context.Context, name string, sub *cmtpubsub.Subscription, handler func(cmtpubsub.Message)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-sub.Out():
			handler(msg)
		case <-sub.Canceled():
			err := sub.Err()
			if err == nil {
				err = errors.New("cancelled")
			}
			return fmt.Errorf("%s subscription: %w", name, err)
		}
	}
}

func (c *Collector) Close() error {
	err := c.bus.UnsubscribeAll(context.Background(), subscriberID)
	if errors.Is(err, cmtpubsub.ErrSubscriptionNotFound) {
		return nil
	}
	return err
}

func (c *Collector) handleEvent(ctx context.Context, ev oracle.Event) {
	switch e := ev.(type) {
	case oracle.NodeJoined:
		c.monres.Alias(e.Node, e.Owner)
		c.emitLine("%s joined with stake %d", c.name(e.Node), e.Stake)
	case oracle.NodeCommitted:
		c.handleCommit(ctx, e)
	case oracle.NodeRevealed:
		c.handleReveal(ctx, e)
	case oracle.PhaseChanged:
		c.handlePhaseChanged(e)
	case oracle.NodeSlashed:
		c.handleSlash(e)
	case oracle.RoundResolved:
		c.handleResolved(e)
	default:
		c.log.Printf("unhandled event %s", ev.EventType())
		return
	}
	c.refresh(ctx, ev.RoundID())
	if _, ok := ev.(oracle.RoundResolved); ok {
		c.doneOnce.Do(func() { close(c.resolved) })
	}
}

func (c *Collector) handleCommit(ctx context.Context, e oracle.NodeCommitted) {
	c.queueVote(ctx, e.Round, e.Node, &models.NodeVote{
		VoteType:   "commit",
		Commitment: e.Commitment.String(),
	})
	c.emitLine("%s committed %s", c.name(e.Node), shortHex(e.Commitment.String()))
}

func (c *Collector) handleReveal(ctx context.Context, e oracle.NodeRevealed) {
	vote := e.Vote
	c.queueVote(ctx, e.Round, e.Node, &models.NodeVote{
		VoteType: "reveal",
		Vote:     &vote,
	})
	c.emitLine("%s revealed %t", c.name(e.Node), e.Vote)
}

// queueVote fills in the round, node and owner of v and buffers it.
func (c *Collector) queueVote(ctx context.Context, round, node oracle.Address, v *models.NodeVote) {
	v.Round = round.String()
	v.Node = node.String()
	v.Timestamp = time.Now()
	if n, err := c.engine.Node(ctx, node); err == nil {
		v.Owner = n.Owner.String()
		v.OwnerMoniker = c.resolveMoniker(v.Owner)
	} else {
		c.log.Printf("lookup node %s: %v", node, err)
	}

	c.votesMu.Lock()
	c.pendingVotes[v.Round] = append(c.pendingVotes[v.Round], v)
	c.votesMu.Unlock()
}

// flushVotes writes the buffered votes of a round to the database in a batch
func (c *Collector) flushVotes(round string) {
	c.votesMu.Lock()
	votes := c.pendingVotes[round]
	delete(c.pendingVotes, round)
	c.votesMu.Unlock()

	if len(votes) == 0 || c.db == nil {
		return
	}
	if err := c.db.CreateInBatches(votes, voteBatchSize).Error; err != nil {
		c.log.Printf("error flushing votes for round %s: %v (votes count: %d)", round, err, len(votes))
	} else {
		c.log.Printf("Flushed %d votes for round %s", len(votes), round)
	}
}

func (c *Collector) handlePhaseChanged(e oracle.PhaseChanged) {
	round := e.Round.String()
	c.flushVotes(round)
	if c.db != nil {
		rec := models.PhaseTransition{
			Round:          round,
			FromPhase:      e.From.String(),
			ToPhase:        e.To.String(),
			RevealDeadline: e.RevealDeadline,
			At:             time.Unix(e.At, 0),
		}
		if err := c.db.Create(&rec).Error; err != nil {
			c.log.Printf("error saving phase transition for round %s: %v", round, err)
		}
	}
	if e.To == oracle.PhaseReveal {
		c.emitLine("phase %s -> %s, reveal until %d", e.From, e.To, e.RevealDeadline)
		return
	}
	c.emitLine("phase %s -> %s", e.From, e.To)
}

func (c *Collector) handleSlash(e oracle.NodeSlashed) {
	if c.db != nil {
		rec := models.SlashRecord{
			Round:     e.Round.String(),
			Node:      e.Node.String(),
			Reason:    string(e.Reason),
			Amount:    e.Amount,
			Timestamp: time.Now(),
		}
		if len(e.Slasher) > 0 {
			rec.Slasher = e.Slasher.String()
		}
		if err := c.db.Create(&rec).Error; err != nil {
			c.log.Printf("error saving slash of %s: %v", rec.Node, err)
		}
	}
	if len(e.Slasher) > 0 {
		c.emitLine("%s slashed by %s (%s, %d)", c.name(e.Node), c.name(e.Slasher), e.Reason, e.Amount)
		return
	}
	c.emitLine("%s slashed (%s, %d)", c.name(e.Node), e.Reason, e.Amount)
}

func (c *Collector) handleResolved(e oracle.RoundResolved) {
	round := e.Round.String()
	s := e.Settlement
	c.settlements[round] = s
	c.flushVotes(round)

	if c.db != nil {
		err := c.db.Transaction(func(tx *gorm.DB) error {
			res := models.Resolution{
				Round:          round,
				ResolutionBit:  s.ResolutionBit,
				TrueVotes:      s.TrueVotes,
				FalseVotes:     s.FalseVotes,
				ConsensusCount: s.ConsensusCount,
				Forfeited:      s.Forfeited,
				Pool:           s.Pool,
				RewardPerNode:  s.RewardPerNode,
				Dust:           s.Dust,
			}
			if err := tx.Create(&res).Error; err != nil {
				return err
			}
			if len(s.Payouts) == 0 {
				return nil
			}
			payouts := make([]*models.Payout, 0, len(s.Payouts))
			for _, p := range s.Payouts {
				owner := p.Owner.String()
				payouts = append(payouts, &models.Payout{
					Round:        round,
					Node:         p.Node.String(),
					Owner:        owner,
					OwnerMoniker: c.resolveMoniker(owner),
					Refund:       p.Refund,
					Reward:       p.Reward,
				})
			}
			return tx.CreateInBatches(payouts, voteBatchSize).Error
		})
		if err != nil {
			c.log.Printf("error saving resolution of round %s: %v", round, err)
		} else {
			c.log.Printf("Resolution saved: round=%s bit=%t payouts=%d", round, s.ResolutionBit, len(s.Payouts))
		}
	}
	c.emitLine("resolved %t: %d true, %d false, reward %d, dust %d",
		s.ResolutionBit, s.TrueVotes, s.FalseVotes, s.RewardPerNode, s.Dust)
}

// refresh reads the round back from the engine and pushes a snapshot.
func (c *Collector) refresh(ctx context.Context, id oracle.Address) {
	if c.tuiCh == nil {
		return
	}
	info, nodes, err := c.snapshot(ctx, id)
	if err != nil {
		c.log.Printf("snapshot of round %s: %v", id, err)
		return
	}
	c.send(info)
	c.send(nodes)
}

func (c *Collector) snapshot(ctx context.Context, id oracle.Address) (tui.RoundInfo, []tui.NodeInfo, error) {
	r, err := c.engine.Round(ctx, id)
	if err != nil {
		return tui.RoundInfo{}, nil, err
	}
	nodes, err := c.engine.Nodes(ctx, id)
	if err != nil {
		return tui.RoundInfo{}, nil, err
	}
	pool, err := c.engine.Balance(ctx, ledger.Pool(id))
	if err != nil {
		return tui.RoundInfo{}, nil, err
	}
	custody, err := c.engine.Custody(ctx, id)
	if err != nil {
		return tui.RoundInfo{}, nil, err
	}

	info := tui.RoundInfo{
		Round:          r.ID.String(),
		Authority:      r.Authority.String(),
		Phase:          r.Phase.String(),
		SlashPolicy:    r.SlashPolicy.String(),
		Collateral:     r.Collateral,
		MaxNodes:       r.MaxNodes,
		TotalNodes:     r.TotalNodes,
		CommittedNodes: r.CommittedNodes,
		Now:            c.engine.Now(),
		RevealDeadline: r.RevealDeadline,
		Pool:           pool,
		Custody:        custody,
		Deposited:      r.Deposited,
		Withdrawn:      r.Withdrawn,
		Resolved:       r.Resolved,
		ResolutionBit:  r.ResolutionBit,
		Store:          c.storeName(),
	}
	if s, ok := c.settlements[info.Round]; ok {
		info.RewardPerNode = s.RewardPerNode
		info.Dust = s.Dust
	}

	out := make([]tui.NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		escrow, err := c.engine.Balance(ctx, ledger.Escrow(n.ID))
		if err != nil {
			return tui.RoundInfo{}, nil, err
		}
		wallet, err := c.engine.Balance(ctx, ledger.Wallet(n.Owner))
		if err != nil {
			return tui.RoundInfo{}, nil, err
		}
		ni := tui.NodeInfo{
			Address: n.ID.String(),
			Moniker: c.resolveMoniker(n.ID.String()),
			Escrow:  escrow,
			Wallet:  wallet,
			Slashed: n.Slashed,
			Reason:  string(n.SlashReason),
		}
		switch {
		case n.Revealed() && *n.Vote:
			ni.Status = tui.CommitStatusTrue
			info.RevealedNodes++
		case n.Revealed():
			ni.Status = tui.CommitStatusFalse
			info.RevealedNodes++
		case n.Committed():
			ni.Status = tui.CommitStatusCommitted
		}
		if n.Slashed {
			info.SlashedNodes++
		}
		out = append(out, ni)
	}
	return info, out, nil
}

func (c *Collector) storeName() string {
	if c.cfg.DBDialect != "" {
		return c.cfg.DBDialect
	}
	return c.cfg.StoreBackend
}

// send never blocks; a slow TUI misses intermediate snapshots.
func (c *Collector) send(v interface{}) {
	select {
	case c.tuiCh <- v:
	default:
	}
}

func (c *Collector) emitLine(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	c.log.Printf("%s", line)
	if c.tuiCh != nil {
		c.send(line)
	}
}

func (c *Collector) resolveMoniker(addrHex string) string {
	if c.monres == nil || addrHex == "" {
		return ""
	}
	return c.monres.Resolve(addrHex)
}

// name is the moniker of addr, or its short hex form.
func (c *Collector) name(addr oracle.Address) string {
	if m := c.resolveMoniker(addr.String()); m != "" {
		return m
	}
	return shortHex(addr.String())
}

func shortHex(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
