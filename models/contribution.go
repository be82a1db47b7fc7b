package models

import (
	"time"
)

// ContributionState is the lifecycle state of a submitted sample.
// Transitions are forward-only: pending → evaluating → approved|rejected.
type ContributionState string

const (
	ContributionPending    ContributionState = "pending"
	ContributionEvaluating ContributionState = "evaluating"
	ContributionApproved   ContributionState = "approved"
	ContributionRejected   ContributionState = "rejected"
)

// Terminal reports whether the state admits no further transitions.
func (s ContributionState) Terminal() bool {
	return s == ContributionApproved || s == ContributionRejected
}

// RejectReason distinguishes the two user-facing rejection causes.
type RejectReason string

const (
	RejectReasonQuality RejectReason = "quality"           // scorer said no
	RejectReasonSystem  RejectReason = "evaluation_failed" // retries exhausted
)

// Contribution is one labeled sign-language sample submitted by a user.
// Rows are never deleted — the table is the audit trail.
type Contribution struct {
	ID               string            `gorm:"primaryKey;type:uuid" json:"id"`
	SubmitterAddress string            `gorm:"index" json:"submitter_address"` // wallet address; optional at submission, required for rewards
	PayloadReference string            `gorm:"type:text;not null" json:"payload_reference"`
	Label            string            `gorm:"not null" json:"label"`
	State            ContributionState `gorm:"not null;default:'pending';index" json:"state"`
	Score            float64           `json:"score"`
	RejectReason     RejectReason      `json:"reject_reason,omitempty"`

	// Evaluation bookkeeping for the recovery sweep.
	EvalAttempts int        `gorm:"default:0" json:"-"`
	ClaimedAt    *time.Time `json:"-"`

	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`

	RewardAttempts []RewardAttempt `gorm:"foreignKey:ContributionID" json:"reward_attempts,omitempty"`
}
