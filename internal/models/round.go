// Package models defines the database models for oracle state and its audit trail.
package models

import "time"

// Round is the persisted state of an oracle round. Addresses are upper-case hex.
type Round struct {
	ID             string `gorm:"primaryKey;size:64"`
	Authority      string `gorm:"size:64;index"`
	Collateral     uint64
	RevealWindow   int64
	MaxNodes       uint64
	SlashPolicy    uint8
	Phase          uint8 `gorm:"index"`
	RevealDeadline int64
	TotalNodes     uint64
	CommittedNodes uint64
	Resolved       bool `gorm:"index"`
	ResolutionBit  bool
	Deposited      uint64
	Withdrawn      uint64
	Version        uint64 `gorm:"not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PhaseTransition records every phase change of a round, in order.
type PhaseTransition struct {
	ID             uint   `gorm:"primaryKey"`
	Round          string `gorm:"size:64;index"`
	FromPhase      string `gorm:"size:16"`
	ToPhase        string `gorm:"size:16;index"`
	RevealDeadline int64
	At             time.Time `gorm:"index"`
	CreatedAt      time.Time
}
