package models

import "time"

// NodeVote stores commit and reveal submissions of each node.
// A node has at most one row per vote type.
type NodeVote struct {
	ID           uint      `gorm:"primaryKey"`
	Round        string    `gorm:"size:64;index"`
	Node         string    `gorm:"size:64;index:ux_node_vote_type,unique"`
	VoteType     string    `gorm:"size:16;index:ux_node_vote_type,unique"` // "commit" or "reveal"
	Owner        string    `gorm:"size:64;index"`
	OwnerMoniker string    `gorm:"size:128"`
	Commitment   string    `gorm:"size:64"` // set for commits
	Vote         *bool     // set for reveals
	Timestamp    time.Time `gorm:"index"`
	CreatedAt    time.Time
}
