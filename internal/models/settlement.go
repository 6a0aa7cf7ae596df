package models

import "time"

// Resolution is the outcome of a resolved round.
type Resolution struct {
	ID             uint   `gorm:"primaryKey"`
	Round          string `gorm:"size:64;uniqueIndex"`
	ResolutionBit  bool   `gorm:"index"`
	TrueVotes      uint64
	FalseVotes     uint64
	ConsensusCount uint64
	Forfeited      uint64
	Pool           uint64
	RewardPerNode  uint64
	Dust           uint64
	CreatedAt      time.Time
}

// Payout is what one consensus node received at settlement.
type Payout struct {
	ID           uint   `gorm:"primaryKey"`
	Round        string `gorm:"size:64;index"`
	Node         string `gorm:"size:64;index"`
	Owner        string `gorm:"size:64;index"`
	OwnerMoniker string `gorm:"size:128"`
	Refund       uint64
	Reward       uint64
	CreatedAt    time.Time
}

// SlashRecord stores each slash, for collusion proofs and non-reveal forfeits.
type SlashRecord struct {
	ID        uint   `gorm:"primaryKey"`
	Round     string `gorm:"size:64;index"`
	Node      string `gorm:"size:64;index"`
	Slasher   string `gorm:"size:64;index"` // empty for non-reveal
	Reason    string `gorm:"size:16;index"`
	Amount    uint64
	Timestamp time.Time `gorm:"index"`
	CreatedAt time.Time
}
