package models

import "time"

// RewardKind identifies which ledger instruction an attempt covers.
type RewardKind string

const (
	RewardKindXP          RewardKind = "xp"
	RewardKindAchievement RewardKind = "achievement"
)

// RewardAttemptStatus tracks one reward's transaction lifecycle.
type RewardAttemptStatus string

const (
	RewardNotRequested RewardAttemptStatus = "not_requested" // recorded but no mint warranted (e.g. no tier crossed)
	RewardSubmitted    RewardAttemptStatus = "submitted"
	RewardConfirmed    RewardAttemptStatus = "confirmed"
	RewardFailed       RewardAttemptStatus = "failed" // terminal; retried only by explicit admin action
)

// RewardAttempt records one reward-kind's issuance lifecycle for one
// contribution. The composite unique index is what makes issuance
// at-most-once per kind: concurrent inserts collide and all but one are
// dropped via ON CONFLICT DO NOTHING.
type RewardAttempt struct {
	ID             string              `gorm:"primaryKey;type:uuid" json:"id"`
	ContributionID string              `gorm:"not null;uniqueIndex:idx_reward_contribution_kind" json:"contribution_id"`
	Kind           RewardKind          `gorm:"not null;uniqueIndex:idx_reward_contribution_kind" json:"kind"`
	Status         RewardAttemptStatus `gorm:"not null" json:"status"`
	TxHandle       string              `json:"tx_handle,omitempty"`
	Amount         int64               `json:"amount,omitempty"` // XP amount or achievement tier value
	CreatedAt      time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}
