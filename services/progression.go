package services

import (
	"fmt"
	"log"
	"time"

	"asl-contribution-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProgressionService maintains the local cumulative-XP mirror per submitter.
// Tier crossings detected here gate achievement minting.
type ProgressionService struct {
	DB    *gorm.DB
	Tiers models.TierThresholds
}

func NewProgressionService(db *gorm.DB, tiers models.TierThresholds) *ProgressionService {
	if tiers == nil {
		tiers = models.DefaultTierThresholds
	}
	return &ProgressionService{DB: db, Tiers: tiers}
}

// EnsureProgressRecord ensures a ContributorProgress row exists (idempotent)
func (s *ProgressionService) EnsureProgressRecord(submitterAddress string) (*models.ContributorProgress, error) {
	var prog models.ContributorProgress
	err := s.DB.Where("submitter_address = ?", submitterAddress).First(&prog).Error
	if err == gorm.ErrRecordNotFound {
		prog = models.ContributorProgress{
			ID:               uuid.NewString(),
			SubmitterAddress: submitterAddress,
			TotalXP:          0,
			Tier:             models.TierNone,
		}
		if err := s.DB.Create(&prog).Error; err != nil {
			return nil, err
		}
		return &prog, nil
	}
	if err != nil {
		return nil, err
	}
	return &prog, nil
}

// AwardXP atomically adds XP to the mirror and recomputes the tier.
// crossedTier is non-None only when this award moved the submitter into a
// higher tier — the signal the coordinator uses to mint an achievement.
func (s *ProgressionService) AwardXP(submitterAddress string, xp int64, reason string) (prog *models.ContributorProgress, crossedTier models.AchievementTier, err error) {
	crossedTier = models.TierNone
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		var p models.ContributorProgress
		if err := tx.Where("submitter_address = ?", submitterAddress).First(&p).Error; err != nil {
			return fmt.Errorf("progress record not found for %s", submitterAddress)
		}

		oldTier := p.Tier
		p.TotalXP += xp

		newTier := s.Tiers.TierFor(p.TotalXP)
		if newTier > oldTier {
			now := time.Now()
			p.Tier = newTier
			p.LastTierUpAt = &now
			crossedTier = newTier
		}

		if err := tx.Save(&p).Error; err != nil {
			return err
		}

		prog = &models.ContributorProgress{}
		*prog = p

		log.Printf("[PROGRESSION] XP awarded: %s → XP=%d, Tier=%s (reason: %s)",
			submitterAddress, p.TotalXP, p.Tier, reason)
		return nil
	})
	if err != nil {
		return nil, models.TierNone, err
	}
	return prog, crossedTier, nil
}

// RecordSubmission bumps the contribution counter for a submitter.
// Addressless submissions are counted nowhere; they can still be evaluated.
func (s *ProgressionService) RecordSubmission(submitterAddress string) error {
	if submitterAddress == "" {
		return nil
	}
	if _, err := s.EnsureProgressRecord(submitterAddress); err != nil {
		return err
	}
	return s.DB.Model(&models.ContributorProgress{}).
		Where("submitter_address = ?", submitterAddress).
		Update("total_contributions", gorm.Expr("total_contributions + 1")).Error
}

// RecordApproval bumps the approved-contribution counter.
func (s *ProgressionService) RecordApproval(submitterAddress string) error {
	return s.DB.Model(&models.ContributorProgress{}).
		Where("submitter_address = ?", submitterAddress).
		Update("total_approved", gorm.Expr("total_approved + 1")).Error
}

// GetProgress returns the mirror row for a submitter, or ErrNotFound.
func (s *ProgressionService) GetProgress(submitterAddress string) (*models.ContributorProgress, error) {
	var prog models.ContributorProgress
	err := s.DB.Where("submitter_address = ?", submitterAddress).First(&prog).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &prog, nil
}
