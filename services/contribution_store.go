package services

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"asl-contribution-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PayloadStore is the blob-store collaborator holding uploaded samples. The
// store only needs a stable reference and an existence check.
type PayloadStore interface {
	Exists(reference string) (bool, error)
}

// ContributionStore is the durable record of every contribution and its
// reward attempts. All state mutations go through single-row conditional
// updates — the state machine, not a mutex, is the concurrency guard.
type ContributionStore struct {
	DB       *gorm.DB
	Payloads PayloadStore
}

func NewContributionStore(db *gorm.DB, payloads PayloadStore) *ContributionStore {
	return &ContributionStore{DB: db, Payloads: payloads}
}

// Create inserts a new contribution in state pending.
func (s *ContributionStore) Create(submitterAddress, payloadReference, label string) (*models.Contribution, error) {
	if strings.TrimSpace(label) == "" {
		return nil, fmt.Errorf("%w: label is required", ErrInvalidInput)
	}
	if strings.TrimSpace(payloadReference) == "" {
		return nil, fmt.Errorf("%w: payload reference is required", ErrInvalidInput)
	}
	if s.Payloads != nil {
		ok, err := s.Payloads.Exists(payloadReference)
		if err != nil {
			return nil, fmt.Errorf("payload store check failed: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: payload reference %q unresolvable", ErrInvalidInput, payloadReference)
		}
	}

	c := &models.Contribution{
		ID:               uuid.NewString(),
		SubmitterAddress: submitterAddress,
		PayloadReference: payloadReference,
		Label:            label,
		State:            models.ContributionPending,
	}
	if err := s.DB.Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns a contribution with its reward attempts embedded.
func (s *ContributionStore) Get(id string) (*models.Contribution, error) {
	var c models.Contribution
	err := s.DB.Preload("RewardAttempts").Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// AdvanceToEvaluating claims a pending contribution for evaluation. The
// claim is a single conditional UPDATE: of N concurrent callers exactly one
// sees RowsAffected == 1, everyone else gets ErrInvalidTransition and must
// abandon the contribution.
func (s *ContributionStore) AdvanceToEvaluating(id string) error {
	now := time.Now().UTC()
	res := s.DB.Model(&models.Contribution{}).
		Where("id = ? AND state = ?", id, models.ContributionPending).
		Updates(map[string]interface{}{
			"state":         models.ContributionEvaluating,
			"claimed_at":    now,
			"eval_attempts": gorm.Expr("eval_attempts + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	return s.transitionFailure(id, "claim")
}

// ReclaimStale re-claims a contribution stuck in evaluating past the
// deadline. Same conditional-update discipline as AdvanceToEvaluating, with
// the claim timestamp as the fencing condition so two sweeps cannot both
// reclaim the same row.
func (s *ContributionStore) ReclaimStale(id string, stuckSince time.Time) error {
	now := time.Now().UTC()
	res := s.DB.Model(&models.Contribution{}).
		Where("id = ? AND state = ? AND claimed_at <= ?", id, models.ContributionEvaluating, stuckSince).
		Updates(map[string]interface{}{
			"claimed_at":    now,
			"eval_attempts": gorm.Expr("eval_attempts + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	return s.transitionFailure(id, "reclaim")
}

// RecordVerdict moves evaluating → approved|rejected. Recording the same
// verdict twice is a no-op (tolerates scorer retry); a contradicting verdict
// on a terminal contribution fails with ErrConflictingVerdict.
func (s *ContributionStore) RecordVerdict(id string, score float64, approved bool) error {
	target := models.ContributionRejected
	if approved {
		target = models.ContributionApproved
	}
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"state":      target,
		"score":      score,
		"decided_at": now,
	}
	if !approved {
		updates["reject_reason"] = models.RejectReasonQuality
	}

	res := s.DB.Model(&models.Contribution{}).
		Where("id = ? AND state = ?", id, models.ContributionEvaluating).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var c models.Contribution
	if err := s.DB.Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	if c.State == target {
		if c.Score == score {
			return nil // idempotent re-record of the same verdict
		}
		// A verdict is outcome plus score; same flag with a different score
		// is still a contradiction.
		return fmt.Errorf("%w: %s already decided with score %v", ErrConflictingVerdict, id, c.Score)
	}
	if c.State.Terminal() {
		return fmt.Errorf("%w: %s already %s", ErrConflictingVerdict, id, c.State)
	}
	return fmt.Errorf("%w: verdict on %s in state %s", ErrInvalidTransition, id, c.State)
}

// MarkEvaluationFailed terminates a contribution whose evaluation retries are
// exhausted: evaluating → rejected with the system-failure reason. The
// contribution is never left in evaluating forever.
func (s *ContributionStore) MarkEvaluationFailed(id string) error {
	now := time.Now().UTC()
	res := s.DB.Model(&models.Contribution{}).
		Where("id = ? AND state = ?", id, models.ContributionEvaluating).
		Updates(map[string]interface{}{
			"state":         models.ContributionRejected,
			"reject_reason": models.RejectReasonSystem,
			"decided_at":    now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	return s.transitionFailure(id, "mark evaluation failed")
}

// UpsertRewardAttempt inserts a reward attempt for (contribution, kind).
// The unique index plus ON CONFLICT DO NOTHING enforces at-most-one attempt
// per kind. alreadyIssued is a signal, not an error: the caller must skip
// submission for that kind.
func (s *ContributionStore) UpsertRewardAttempt(contributionID string, kind models.RewardKind, status models.RewardAttemptStatus, amount int64) (attempt *models.RewardAttempt, alreadyIssued bool, err error) {
	a := &models.RewardAttempt{
		ID:             uuid.NewString(),
		ContributionID: contributionID,
		Kind:           kind,
		Status:         status,
		Amount:         amount,
	}
	res := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "contribution_id"}, {Name: "kind"}},
		DoNothing: true,
	}).Create(a)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return a, false, nil
	}

	// Lost the insert race or the attempt predates this call; report the
	// existing row. failed counts as issued too — retries are explicit
	// operator actions, never automatic (avoids double-minting).
	var existing models.RewardAttempt
	if err := s.DB.Where("contribution_id = ? AND kind = ?", contributionID, kind).First(&existing).Error; err != nil {
		return nil, false, err
	}
	return &existing, true, nil
}

// SetRewardTxHandle records the ledger handle on a submitted attempt.
func (s *ContributionStore) SetRewardTxHandle(contributionID string, kind models.RewardKind, txHandle string) error {
	res := s.DB.Model(&models.RewardAttempt{}).
		Where("contribution_id = ? AND kind = ? AND status = ?", contributionID, kind, models.RewardSubmitted).
		Update("tx_handle", txHandle)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: no submitted %s attempt for %s", ErrInvalidTransition, kind, contributionID)
	}
	return nil
}

// ClaimNotRequestedAttempt flips a not_requested attempt to submitted,
// recording the amount. Used when a tier crossing is discovered after another
// pass already recorded "no mint"; the conditional update keeps the
// submission at-most-once.
func (s *ContributionStore) ClaimNotRequestedAttempt(contributionID string, kind models.RewardKind, amount int64) error {
	res := s.DB.Model(&models.RewardAttempt{}).
		Where("contribution_id = ? AND kind = ? AND status = ?", contributionID, kind, models.RewardNotRequested).
		Updates(map[string]interface{}{
			"status": models.RewardSubmitted,
			"amount": amount,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: no not_requested %s attempt for %s", ErrInvalidTransition, kind, contributionID)
	}
	return nil
}

// TransitionRewardAttempt moves an attempt from one status to another,
// conditionally. Used by reconciliation (submitted → confirmed|failed) and by
// the explicit admin retry (failed → submitted).
func (s *ContributionStore) TransitionRewardAttempt(contributionID string, kind models.RewardKind, from, to models.RewardAttemptStatus) error {
	res := s.DB.Model(&models.RewardAttempt{}).
		Where("contribution_id = ? AND kind = ? AND status = ?", contributionID, kind, from).
		Update("status", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s attempt for %s not in %s", ErrInvalidTransition, kind, contributionID, from)
	}
	return nil
}

// FindPending returns up to limit contributions still waiting for a claim,
// oldest first. Backstop path for the evaluation worker.
func (s *ContributionStore) FindPending(limit int) ([]models.Contribution, error) {
	var out []models.Contribution
	err := s.DB.Where("state = ?", models.ContributionPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// FindStaleEvaluating returns contributions stuck in evaluating whose claim
// is older than the cutoff.
func (s *ContributionStore) FindStaleEvaluating(cutoff time.Time, limit int) ([]models.Contribution, error) {
	var out []models.Contribution
	err := s.DB.Where("state = ? AND claimed_at <= ?", models.ContributionEvaluating, cutoff).
		Order("claimed_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// FindSubmittedAttempts returns reward attempts awaiting ledger confirmation.
func (s *ContributionStore) FindSubmittedAttempts(limit int) ([]models.RewardAttempt, error) {
	var out []models.RewardAttempt
	err := s.DB.Where("status = ?", models.RewardSubmitted).
		Order("updated_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// transitionFailure classifies a RowsAffected == 0 outcome: either the row is
// gone (NotFound) or it sits in a state the operation does not accept.
func (s *ContributionStore) transitionFailure(id, op string) error {
	var c models.Contribution
	if err := s.DB.Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	log.Printf("[STORE] %s blocked for %s: state=%s", op, id, c.State)
	return fmt.Errorf("%w: cannot %s contribution %s in state %s", ErrInvalidTransition, op, id, c.State)
}
