package models

import "time"

// Node is the persisted state of a staked participant.
type Node struct {
	ID          string `gorm:"primaryKey;size:64"`
	Round       string `gorm:"size:64;index"`
	Owner       string `gorm:"size:64;index"`
	Stake       uint64
	Commitment  string `gorm:"size:64"` // empty until committed
	Vote        *bool
	Slashed     bool   `gorm:"index"`
	SlashReason string `gorm:"size:16"`
	Version     uint64 `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Balance is one ledger account. Zero balances are not stored.
type Balance struct {
	Account   string `gorm:"primaryKey;size:160"`
	Amount    uint64 `gorm:"not null"`
	UpdatedAt time.Time
}
