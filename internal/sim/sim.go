// Package sim drives one scripted oracle round: nodes join, commit, leak,
// reveal and get slashed according to their roles, then the round resolves.
package sim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cometbft/cometbft/crypto"
	"github.com/cometbft/cometbft/crypto/ed25519"
	"github.com/cometbft/cometbft/crypto/tmhash"

	"commit-reveal-oracle/internal/config"
	"commit-reveal-oracle/internal/ledger"
	"commit-reveal-oracle/internal/logger"
	"commit-reveal-oracle/internal/moniker"
	"commit-reveal-oracle/internal/oracle"
)

// Role is how a simulated node behaves.
type Role int

const (
	RoleHonest Role = iota // reveals the true bit
	RoleLiar               // reveals the opposite bit
	RoleSilent             // commits, never reveals
	RoleLeaker             // leaks its preimage and gets slashed
)

func (r Role) String() string {
	switch r {
	case RoleHonest:
		return "honest"
	case RoleLiar:
		return "liar"
	case RoleSilent:
		return "silent"
	case RoleLeaker:
		return "leaker"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Participant is one simulated node and the identity that owns it.
type Participant struct {
	Name  string
	Owner oracle.Address
	Node  oracle.Address
	Role  Role
	Vote  bool
	Nonce oracle.Nonce
}

// Report summarizes a finished simulation.
type Report struct {
	Round        oracle.Address
	Participants []*Participant
	Settlement   *oracle.Settlement
	// Rejected lists operations the engine refused as expected.
	Rejected  []string
	Custody   uint64
	Deposited uint64
	Withdrawn uint64
	Wallets   map[string]uint64
}

type Simulator struct {
	cfg    config.Config
	engine *oracle.Engine
	clock  *oracle.ManualClock
	monres *moniker.Resolver
	log    *logger.Logger

	authority oracle.Address
	round     oracle.Address
	report    *Report
}

func New(cfg config.Config, engine *oracle.Engine, clock *oracle.ManualClock, monres *moniker.Resolver, log *logger.Logger) *Simulator {
	if log == nil {
		log = logger.New(false)
	}
	return &Simulator{cfg: cfg, engine: engine, clock: clock, monres: monres, log: log}
}

// Run plays the whole round and verifies the round holds exactly what it
// was paid minus what it paid out.
func (s *Simulator) Run(ctx context.Context) (*Report, error) {
	policy, err := oracle.ParseSlashPolicy(s.cfg.SlashPolicy)
	if err != nil {
		return nil, err
	}
	s.authority = ed25519.GenPrivKey().PubKey().Address()
	s.round = roundID(s.authority, s.clock.Now())
	s.report = &Report{Round: s.round, Wallets: map[string]uint64{}}

	window := int64(s.cfg.RevealWindow / time.Second)
	if _, err := s.engine.Initialize(ctx, s.authority, s.round, oracle.Params{
		Collateral:   s.cfg.Collateral,
		RevealWindow: window,
		MaxNodes:     s.cfg.MaxNodes,
		SlashPolicy:  policy,
	}); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	s.log.Printf("Round %s initialized: collateral=%d window=%ds policy=%s", s.round, s.cfg.Collateral, window, policy)

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"join", s.join},
		{"start", s.start},
		{"commit", s.commit},
		{"reveal", s.reveal},
		{"resolve", s.resolve},
	}
	for _, st := range steps {
		if err := st.fn(ctx); err != nil {
			return s.report, fmt.Errorf("%s: %w", st.name, err)
		}
	}
	return s.report, s.verify(ctx)
}

func roundID(authority oracle.Address, now int64) oracle.Address {
	bz := append([]byte("round"), authority...)
	bz = append(bz, fmt.Sprint(now)...)
	return crypto.Address(tmhash.SumTruncated(bz))
}

func (s *Simulator) roleOf(i int) Role {
	switch {
	case i < s.cfg.SimLiars:
		return RoleLiar
	case i < s.cfg.SimLiars+s.cfg.SimSilent:
		return RoleSilent
	case i < s.cfg.SimLiars+s.cfg.SimSilent+s.cfg.SimLeakers:
		return RoleLeaker
	default:
		return RoleHonest
	}
}

func (s *Simulator) join(ctx context.Context) error {
	for i := 0; i < s.cfg.SimNodes; i++ {
		pub := ed25519.GenPrivKey().PubKey()
		p := &Participant{
			Name:  s.monres.Register(pub),
			Owner: pub.Address(),
			Role:  s.roleOf(i),
			Vote:  s.cfg.SimTruth,
		}
		if p.Name == "" {
			p.Name = fmt.Sprintf("node-%d", i+1)
		}
		if p.Role == RoleLiar {
			p.Vote = !s.cfg.SimTruth
		}
		nonce, err := oracle.NewNonce()
		if err != nil {
			return err
		}
		p.Nonce = nonce

		if err := s.engine.Fund(ctx, p.Owner, s.cfg.Collateral); err != nil {
			return err
		}
		n, err := s.engine.JoinNetwork(ctx, p.Owner, s.round)
		if err != nil {
			return fmt.Errorf("%s: %w", p.Name, err)
		}
		p.Node = n.ID
		s.report.Participants = append(s.report.Participants, p)
		s.log.Printf("%s joined as %s", p.Name, p.Role)
		if err := s.pause(ctx); err != nil {
			return err
		}
	}

	// An identity without funds cannot stake.
	broke := ed25519.GenPrivKey().PubKey().Address()
	_, err := s.engine.JoinNetwork(ctx, broke, s.round)
	if s.cfg.MaxNodes > 0 && uint64(s.cfg.SimNodes) >= s.cfg.MaxNodes {
		return s.expect(err, oracle.ErrMaxNodesReached, "join beyond the node cap")
	}
	return s.expect(err, ledger.ErrInsufficientFunds, "join without funds")
}

func (s *Simulator) start(ctx context.Context) error {
	if err := s.engine.StartRequest(ctx, s.authority, s.round); err != nil {
		return err
	}
	return s.pause(ctx)
}

// commit submits commitments. Leakers go first so their preimage can be
// used against them while the round is still in the commit phase.
func (s *Simulator) commit(ctx context.Context) error {
	var leakers, rest []*Participant
	for _, p := range s.report.Participants {
		if p.Role == RoleLeaker {
			leakers = append(leakers, p)
		} else {
			rest = append(rest, p)
		}
	}

	for _, p := range leakers {
		if err := s.commitOne(ctx, p); err != nil {
			return err
		}
	}
	if len(s.report.Participants) > 1 {
		first := s.report.Participants[0]
		if len(leakers) > 0 {
			first = leakers[0]
		} else if err := s.commitOne(ctx, first); err != nil {
			return err
		}
		if len(leakers) > 0 || len(rest) > 1 {
			slasher := s.peerOf(first)
			err := s.engine.SlashColluding(ctx, slasher.Owner, first.Node, !first.Vote, first.Nonce)
			if err := s.expect(err, oracle.ErrInvalidCollusion, "slash with a wrong preimage"); err != nil {
				return err
			}
		}
	}
	for _, p := range leakers {
		slasher := s.peerOf(p)
		if err := s.engine.SlashColluding(ctx, slasher.Owner, p.Node, p.Vote, p.Nonce); err != nil {
			return fmt.Errorf("slash %s: %w", p.Name, err)
		}
		s.log.Printf("%s slashed %s for leaking", slasher.Name, p.Name)
		if err := s.pause(ctx); err != nil {
			return err
		}
	}
	for _, p := range rest {
		n, err := s.engine.Node(ctx, p.Node)
		if err != nil {
			return err
		}
		if n.Committed() {
			continue
		}
		if err := s.commitOne(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulator) commitOne(ctx context.Context, p *Participant) error {
	if err := s.engine.Commit(ctx, p.Owner, p.Node, oracle.NewCommitment(p.Vote, p.Nonce)); err != nil {
		return fmt.Errorf("%s: %w", p.Name, err)
	}
	s.log.Printf("%s committed", p.Name)
	return s.pause(ctx)
}

// peerOf picks the participant after p to act against it.
func (s *Simulator) peerOf(p *Participant) *Participant {
	ps := s.report.Participants
	for i, q := range ps {
		if q == p {
			return ps[(i+1)%len(ps)]
		}
	}
	return ps[0]
}

func (s *Simulator) reveal(ctx context.Context) error {
	r, err := s.engine.Round(ctx, s.round)
	if err != nil {
		return err
	}
	if r.Phase != oracle.PhaseReveal {
		return fmt.Errorf("round in %s after all commits: %w", r.Phase, oracle.ErrInvalidPhase)
	}

	// Registration closes with the commit phase, even for a funded identity.
	late := ed25519.GenPrivKey().PubKey().Address()
	if err := s.engine.Fund(ctx, late, s.cfg.Collateral); err != nil {
		return err
	}
	_, err = s.engine.JoinNetwork(ctx, late, s.round)
	if err := s.expect(err, oracle.ErrInvalidPhaseForJoining, "join after the commit phase"); err != nil {
		return err
	}

	ids, err := s.engine.NodeIDs(ctx, s.round)
	if err != nil {
		return err
	}
	_, err = s.engine.Resolve(ctx, s.authority, s.round, ids)
	if err := s.expect(err, oracle.ErrRevealPhaseNotClosed, "resolve before the deadline"); err != nil {
		return err
	}

	var silent []*Participant
	for _, p := range s.report.Participants {
		switch p.Role {
		case RoleSilent:
			silent = append(silent, p)
			continue
		case RoleLeaker:
			err := s.engine.Reveal(ctx, p.Owner, p.Node, p.Vote, p.Nonce)
			if err := s.expect(err, oracle.ErrNodeSlashed, "reveal by a slashed node"); err != nil {
				return err
			}
			continue
		}
		if err := s.engine.Reveal(ctx, p.Owner, p.Node, p.Vote, p.Nonce); err != nil {
			return fmt.Errorf("%s: %w", p.Name, err)
		}
		s.log.Printf("%s revealed %t", p.Name, p.Vote)
		if err := s.pause(ctx); err != nil {
			return err
		}
	}

	s.clock.Set(r.RevealDeadline + 1)
	for _, p := range silent {
		err := s.engine.Reveal(ctx, p.Owner, p.Node, p.Vote, p.Nonce)
		if err := s.expect(err, oracle.ErrRevealPhaseClosed, "reveal after the deadline"); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulator) resolve(ctx context.Context) error {
	ids, err := s.engine.NodeIDs(ctx, s.round)
	if err != nil {
		return err
	}
	if len(ids) > 1 {
		_, err := s.engine.Resolve(ctx, s.authority, s.round, append(ids[1:len(ids):len(ids)], ids[1]))
		if err := s.expect(err, oracle.ErrDuplicateNode, "resolve with a duplicated node"); err != nil {
			return err
		}
	}
	settlement, err := s.engine.Resolve(ctx, s.authority, s.round, ids)
	if err != nil {
		return err
	}
	s.report.Settlement = settlement
	s.log.Printf("Round %s resolved to %t: reward=%d dust=%d", s.round, settlement.ResolutionBit,
		settlement.RewardPerNode, settlement.Dust)
	return s.pause(ctx)
}

func (s *Simulator) verify(ctx context.Context) error {
	r, err := s.engine.Round(ctx, s.round)
	if err != nil {
		return err
	}
	custody, err := s.engine.Custody(ctx, s.round)
	if err != nil {
		return err
	}
	s.report.Custody = custody
	s.report.Deposited = r.Deposited
	s.report.Withdrawn = r.Withdrawn
	for _, p := range s.report.Participants {
		bal, err := s.engine.Balance(ctx, ledger.Wallet(p.Owner))
		if err != nil {
			return err
		}
		s.report.Wallets[p.Name] = bal
	}
	if r.Withdrawn > r.Deposited || custody != r.Deposited-r.Withdrawn {
		return fmt.Errorf("custody %d, deposited %d, withdrawn %d: %w",
			custody, r.Deposited, r.Withdrawn, oracle.ErrConservation)
	}
	return nil
}

// expect records err as an expected rejection when it matches target.
func (s *Simulator) expect(err, target error, what string) error {
	switch {
	case err == nil:
		return fmt.Errorf("%s was accepted", what)
	case errors.Is(err, target):
		s.report.Rejected = append(s.report.Rejected, what)
		s.log.Printf("rejected as expected: %s: %v", what, err)
		return nil
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}

func (s *Simulator) pause(ctx context.Context) error {
	if s.cfg.SimStepDelay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.cfg.SimStepDelay):
		return nil
	}
}
