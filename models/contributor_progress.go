package models

import (
	"time"

	"gorm.io/gorm"
)

// AchievementTier mirrors the achievement NFT contract's tier enum.
type AchievementTier int

const (
	TierNone AchievementTier = iota - 1 // below the first threshold
	TierBeginner
	TierIntermediate
	TierAdvanced
	TierExpert
	TierMaster
)

func (t AchievementTier) String() string {
	switch t {
	case TierBeginner:
		return "Beginner"
	case TierIntermediate:
		return "Intermediate"
	case TierAdvanced:
		return "Advanced"
	case TierExpert:
		return "Expert"
	case TierMaster:
		return "Master"
	default:
		return "None"
	}
}

// TierThresholds maps tier → minimum cumulative XP. Injected configuration,
// not hardcoded policy.
type TierThresholds map[AchievementTier]int64

var DefaultTierThresholds = TierThresholds{
	TierBeginner:     100,
	TierIntermediate: 500,
	TierAdvanced:     750,
	TierExpert:       1000,
	TierMaster:       2000,
}

// TierFor returns the highest tier whose threshold totalXP meets.
func (tt TierThresholds) TierFor(totalXP int64) AchievementTier {
	best := TierNone
	for tier := TierBeginner; tier <= TierMaster; tier++ {
		min, ok := tt[tier]
		if ok && totalXP >= min && tier > best {
			best = tier
		}
	}
	return best
}

// ContributorProgress is the local cumulative-XP mirror per submitter
// (denormalized for performance). The on-chain balance is authoritative;
// this row drives the tier-crossing achievement condition and the progress
// projection without an RPC round trip.
type ContributorProgress struct {
	ID               string `gorm:"primaryKey;type:uuid" json:"id"`
	SubmitterAddress string `gorm:"uniqueIndex;not null" json:"submitter_address"`

	TotalXP int64           `gorm:"default:0" json:"total_xp"`
	Tier    AchievementTier `gorm:"default:-1" json:"tier"`

	TotalContributions int64 `gorm:"default:0" json:"total_contributions"`
	TotalApproved      int64 `gorm:"default:0" json:"total_approved"`

	LastTierUpAt *time.Time `json:"last_tier_up_at,omitempty"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
