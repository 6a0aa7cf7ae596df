package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"commit-reveal-oracle/internal/ledger"
	"commit-reveal-oracle/internal/models"
	"commit-reveal-oracle/internal/oracle"
)

// SQL is an oracle.Store on a gorm database. Update runs in a database
// transaction and locks every row it reads; version columns guard against
// writers outside the engine.
type SQL struct {
	db     *gorm.DB
	logger cmtlog.Logger
}

// NewSQL expects the schema from db.AutoMigrate.
func NewSQL(db *gorm.DB, logger cmtlog.Logger) *SQL {
	if logger == nil {
		logger = cmtlog.NewNopLogger()
	}
	return &SQL{db: db, logger: logger.With("module", "store", "backend", "sql")}
}

func (s *SQL) Update(ctx context.Context, fn func(tx oracle.Tx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(g *gorm.DB) error {
		return fn(&sqlTx{db: g, lock: true})
	})
	if err != nil {
		s.logger.Debug("transaction rolled back", "err", err)
	}
	return err
}

func (s *SQL) View(ctx context.Context, fn func(tx oracle.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(g *gorm.DB) error {
		return fn(&sqlTx{db: g, readOnly: true})
	}, &sql.TxOptions{ReadOnly: true})
}

type sqlTx struct {
	db       *gorm.DB
	lock     bool
	readOnly bool
}

func (tx *sqlTx) query() *gorm.DB {
	if tx.lock {
		return tx.db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx.db
}

func (tx *sqlTx) writable() error {
	if tx.readOnly {
		return errReadOnly
	}
	return nil
}

func (tx *sqlTx) Balance(acct ledger.Account) (uint64, error) {
	var b models.Balance
	err := tx.query().First(&b, "account = ?", acct.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("balance %s: %w", acct, err)
	}
	return b.Amount, nil
}

func (tx *sqlTx) SetBalance(acct ledger.Account, amount uint64) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if amount == 0 {
		return tx.db.Delete(&models.Balance{}, "account = ?", acct.String()).Error
	}
	return tx.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "updated_at"}),
	}).Create(&models.Balance{Account: acct.String(), Amount: amount}).Error
}

func (tx *sqlTx) GetRound(id oracle.Address) (*oracle.Round, error) {
	var m models.Round
	err := tx.query().First(&m, "id = ?", id.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, oracle.ErrRoundNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("round %s: %w", id, err)
	}
	return roundFromModel(&m)
}

func (tx *sqlTx) PutRound(r *oracle.Round) error {
	if err := tx.writable(); err != nil {
		return err
	}
	m := roundModel(r)
	if err := tx.put(&models.Round{}, &m, m.ID, r.Version); err != nil {
		return fmt.Errorf("round %s: %w", r.ID, err)
	}
	r.Version++
	return nil
}

func (tx *sqlTx) GetNode(id oracle.Address) (*oracle.Node, error) {
	var m models.Node
	err := tx.query().First(&m, "id = ?", id.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, oracle.ErrNodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", id, err)
	}
	return nodeFromModel(&m)
}

func (tx *sqlTx) PutNode(n *oracle.Node) error {
	if err := tx.writable(); err != nil {
		return err
	}
	m := nodeModel(n)
	if err := tx.put(&models.Node{}, &m, m.ID, n.Version); err != nil {
		return fmt.Errorf("node %s: %w", n.ID, err)
	}
	n.Version++
	return nil
}

func (tx *sqlTx) ListNodes(round oracle.Address) ([]*oracle.Node, error) {
	var ms []models.Node
	if err := tx.query().Where("round = ?", round.String()).Order("id").Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("list nodes of %s: %w", round, err)
	}
	nodes := make([]*oracle.Node, 0, len(ms))
	for i := range ms {
		n, err := nodeFromModel(&ms[i])
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// put writes record (a *models.Round or *models.Node whose Version field
// still holds the caller's version) following checkVersion.
func (tx *sqlTx) put(table, record any, id string, version uint64) error {
	if version == 0 {
		var count int64
		if err := tx.db.Model(table).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if err := checkVersion(count > 0, 0, version); err != nil {
			return err
		}
		setVersion(record, 1)
		return tx.db.Create(record).Error
	}
	setVersion(record, version+1)
	res := tx.db.Model(table).
		Where("id = ? AND version = ?", id, version).
		Select("*").Omit("id", "created_at").
		Updates(record)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("version %d is stale: %w", version, oracle.ErrConflict)
	}
	return nil
}

func setVersion(record any, v uint64) {
	switch m := record.(type) {
	case *models.Round:
		m.Version = v
	case *models.Node:
		m.Version = v
	}
}

func roundModel(r *oracle.Round) models.Round {
	return models.Round{
		ID:             r.ID.String(),
		Authority:      r.Authority.String(),
		Collateral:     r.Collateral,
		RevealWindow:   r.RevealWindow,
		MaxNodes:       r.MaxNodes,
		SlashPolicy:    uint8(r.SlashPolicy),
		Phase:          uint8(r.Phase),
		RevealDeadline: r.RevealDeadline,
		TotalNodes:     r.TotalNodes,
		CommittedNodes: r.CommittedNodes,
		Resolved:       r.Resolved,
		ResolutionBit:  r.ResolutionBit,
		Deposited:      r.Deposited,
		Withdrawn:      r.Withdrawn,
		Version:        r.Version,
	}
}

func roundFromModel(m *models.Round) (*oracle.Round, error) {
	id, err := oracle.ParseAddress(m.ID)
	if err != nil {
		return nil, err
	}
	authority, err := oracle.ParseAddress(m.Authority)
	if err != nil {
		return nil, err
	}
	return &oracle.Round{
		ID:             id,
		Authority:      authority,
		Collateral:     m.Collateral,
		RevealWindow:   m.RevealWindow,
		MaxNodes:       m.MaxNodes,
		SlashPolicy:    oracle.SlashPolicy(m.SlashPolicy),
		Phase:          oracle.Phase(m.Phase),
		RevealDeadline: m.RevealDeadline,
		TotalNodes:     m.TotalNodes,
		CommittedNodes: m.CommittedNodes,
		Resolved:       m.Resolved,
		ResolutionBit:  m.ResolutionBit,
		Deposited:      m.Deposited,
		Withdrawn:      m.Withdrawn,
		Version:        m.Version,
	}, nil
}

func nodeModel(n *oracle.Node) models.Node {
	m := models.Node{
		ID:          n.ID.String(),
		Round:       n.Round.String(),
		Owner:       n.Owner.String(),
		Stake:       n.Stake,
		Vote:        n.Vote,
		Slashed:     n.Slashed,
		SlashReason: string(n.SlashReason),
		Version:     n.Version,
	}
	if n.Commitment != nil {
		m.Commitment = n.Commitment.String()
	}
	return m
}

func nodeFromModel(m *models.Node) (*oracle.Node, error) {
	n := &oracle.Node{
		Stake:       m.Stake,
		Vote:        m.Vote,
		Slashed:     m.Slashed,
		SlashReason: oracle.SlashReason(m.SlashReason),
		Version:     m.Version,
	}
	var err error
	if n.ID, err = oracle.ParseAddress(m.ID); err != nil {
		return nil, err
	}
	if n.Round, err = oracle.ParseAddress(m.Round); err != nil {
		return nil, err
	}
	if n.Owner, err = oracle.ParseAddress(m.Owner); err != nil {
		return nil, err
	}
	if m.Commitment != "" {
		c, err := oracle.ParseCommitment(m.Commitment)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", m.ID, err)
		}
		n.Commitment = &c
	}
	return n, nil
}
