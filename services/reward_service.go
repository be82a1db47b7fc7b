// services/reward_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"asl-contribution-system/metrics"
	"asl-contribution-system/models"
)

// RewardService coordinates reward issuance for approved contributions.
// XP and achievement are independent: one failing never prevents or rolls
// back the other, and each is at-most-once per contribution via the
// reward-attempt unique index.
type RewardService struct {
	Store       *ContributionStore
	Progression *ProgressionService
	Submitter   TransactionSubmitter
	Rates       models.XPRates

	// Submitted attempts that never got a tx handle recorded (crash between
	// upsert and submit) are failed after this grace period.
	OrphanGrace time.Duration
}

func NewRewardService(store *ContributionStore, progression *ProgressionService, submitter TransactionSubmitter, rates models.XPRates) *RewardService {
	if rates == nil {
		rates = models.DefaultXPRates
	}
	return &RewardService{
		Store:       store,
		Progression: progression,
		Submitter:   submitter,
		Rates:       rates,
		OrphanGrace: 10 * time.Minute,
	}
}

// IssueRewards issues XP and (conditionally) an achievement for an approved
// contribution. Safe to call any number of times, concurrently or after a
// restart: each kind's attempt row is claimed before any ledger call, and an
// AlreadyIssued signal skips the kind.
func (s *RewardService) IssueRewards(ctx context.Context, contributionID string) error {
	c, err := s.Store.Get(contributionID)
	if err != nil {
		return err
	}
	if c.State != models.ContributionApproved {
		return fmt.Errorf("%w: rewards for %s in state %s", ErrInvalidTransition, contributionID, c.State)
	}

	if c.SubmitterAddress == "" {
		// Evaluation never needed an address but minting does. Record both
		// attempts failed so the status API shows a terminal outcome instead
		// of a contribution that silently never settles.
		log.Printf("[REWARDS] contribution %s approved without submitter address — cannot mint", contributionID)
		for _, kind := range []models.RewardKind{models.RewardKindXP, models.RewardKindAchievement} {
			if _, already, err := s.Store.UpsertRewardAttempt(contributionID, kind, models.RewardFailed, 0); err != nil {
				return err
			} else if !already {
				metrics.RewardAttempts.WithLabelValues(string(kind), string(models.RewardFailed)).Inc()
			}
		}
		return nil
	}

	// The achievement decision depends on the XP outcome: while the XP kind
	// is failed or unsettled, recording not_requested would make a later
	// tier-crossing achievement unissuable, so the decision is deferred.
	crossed, xpSettled, xpErr := s.issueXP(ctx, c)
	var achErr error
	if xpSettled {
		achErr = s.issueAchievement(ctx, c, crossed)
	}
	return errors.Join(xpErr, achErr)
}

// issueXP claims the XP attempt, mints, and updates the local progression
// mirror. Returns the tier crossed by this award, if any, and whether the XP
// kind is settled (minted now or previously) so the caller knows whether the
// achievement decision can be made.
func (s *RewardService) issueXP(ctx context.Context, c *models.Contribution) (models.AchievementTier, bool, error) {
	amount := s.Rates[models.ActivityDatasetContribution]

	attempt, already, err := s.Store.UpsertRewardAttempt(c.ID, models.RewardKindXP, models.RewardSubmitted, amount)
	if err != nil {
		return models.TierNone, false, err
	}
	if already {
		log.Printf("[REWARDS] XP for %s already %s — skipping", c.ID, attempt.Status)
		// A failed attempt awaits an explicit operator retry; nothing about
		// the achievement can be decided yet.
		return models.TierNone, attempt.Status != models.RewardFailed, nil
	}
	metrics.RewardAttempts.WithLabelValues(string(models.RewardKindXP), string(models.RewardSubmitted)).Inc()

	handle, err := s.Submitter.Submit(ctx, RewardInstruction{
		Kind:             models.RewardKindXP,
		RecipientAddress: c.SubmitterAddress,
		Activity:         models.ActivityDatasetContribution,
		XPAmount:         amount,
		Description:      fmt.Sprintf("dataset contribution %s (label %s)", c.ID, c.Label),
	})
	if err != nil {
		log.Printf("[REWARDS] XP submit failed for %s: %v", c.ID, err)
		if terr := s.Store.TransitionRewardAttempt(c.ID, models.RewardKindXP, models.RewardSubmitted, models.RewardFailed); terr != nil {
			return models.TierNone, false, terr
		}
		metrics.RewardAttempts.WithLabelValues(string(models.RewardKindXP), string(models.RewardFailed)).Inc()
		return models.TierNone, false, err
	}

	if err := s.Store.SetRewardTxHandle(c.ID, models.RewardKindXP, handle); err != nil {
		return models.TierNone, false, err
	}
	log.Printf("[REWARDS] XP submitted for %s: amount=%d tx=%s", c.ID, amount, handle)

	if _, err := s.Progression.EnsureProgressRecord(c.SubmitterAddress); err != nil {
		return models.TierNone, false, err
	}
	_, crossed, err := s.Progression.AwardXP(c.SubmitterAddress, amount,
		fmt.Sprintf("contribution_%s", c.ID))
	if err != nil {
		return models.TierNone, false, err
	}
	if err := s.Progression.RecordApproval(c.SubmitterAddress); err != nil {
		return crossed, true, err
	}
	return crossed, true, nil
}

// issueAchievement mints an achievement NFT when the XP award crossed a tier
// threshold, otherwise records the attempt as not_requested so the summary
// is explicit about the decision.
func (s *RewardService) issueAchievement(ctx context.Context, c *models.Contribution, crossed models.AchievementTier) error {
	if crossed == models.TierNone {
		_, already, err := s.Store.UpsertRewardAttempt(c.ID, models.RewardKindAchievement, models.RewardNotRequested, 0)
		if err != nil {
			return err
		}
		if !already {
			metrics.RewardAttempts.WithLabelValues(string(models.RewardKindAchievement), string(models.RewardNotRequested)).Inc()
		}
		return nil
	}

	attempt, already, err := s.Store.UpsertRewardAttempt(c.ID, models.RewardKindAchievement, models.RewardSubmitted, int64(crossed))
	if err != nil {
		return err
	}
	if already {
		if attempt.Status != models.RewardNotRequested {
			log.Printf("[REWARDS] achievement for %s already %s — skipping", c.ID, attempt.Status)
			return nil
		}
		// A concurrent issuance recorded "no mint" before this crossing was
		// known. Promote the row; the conditional update keeps it at-most-once.
		if err := s.Store.ClaimNotRequestedAttempt(c.ID, models.RewardKindAchievement, int64(crossed)); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				return nil
			}
			return err
		}
	}
	metrics.RewardAttempts.WithLabelValues(string(models.RewardKindAchievement), string(models.RewardSubmitted)).Inc()

	handle, err := s.Submitter.Submit(ctx, RewardInstruction{
		Kind:             models.RewardKindAchievement,
		RecipientAddress: c.SubmitterAddress,
		Tier:             crossed,
		MetadataRef:      c.PayloadReference,
		Description:      fmt.Sprintf("reached %s tier", crossed),
	})
	if err != nil {
		log.Printf("[REWARDS] achievement submit failed for %s: %v", c.ID, err)
		if terr := s.Store.TransitionRewardAttempt(c.ID, models.RewardKindAchievement, models.RewardSubmitted, models.RewardFailed); terr != nil {
			return terr
		}
		metrics.RewardAttempts.WithLabelValues(string(models.RewardKindAchievement), string(models.RewardFailed)).Inc()
		return err
	}

	if err := s.Store.SetRewardTxHandle(c.ID, models.RewardKindAchievement, handle); err != nil {
		return err
	}
	log.Printf("[REWARDS] achievement submitted for %s: tier=%s tx=%s", c.ID, crossed, handle)
	return nil
}

// ReconcilePending polls the submitter for every submitted attempt of one
// contribution and records terminal outcomes. failed is terminal: no
// automatic resubmission, ever (that is how we avoid double-minting).
func (s *RewardService) ReconcilePending(ctx context.Context, contributionID string) error {
	c, err := s.Store.Get(contributionID)
	if err != nil {
		return err
	}
	var errs []error
	for i := range c.RewardAttempts {
		a := c.RewardAttempts[i]
		if a.Status != models.RewardSubmitted {
			continue
		}
		if err := s.reconcileAttempt(ctx, &a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReconcileAll sweeps submitted attempts across all contributions.
func (s *RewardService) ReconcileAll(ctx context.Context, limit int) error {
	attempts, err := s.Store.FindSubmittedAttempts(limit)
	if err != nil {
		return err
	}
	var errs []error
	for i := range attempts {
		if err := s.reconcileAttempt(ctx, &attempts[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *RewardService) reconcileAttempt(ctx context.Context, a *models.RewardAttempt) error {
	if a.TxHandle == "" {
		// Crashed between claiming the attempt and recording the handle.
		// After the grace period nobody can ever resolve it — fail it so the
		// operator sees it.
		if time.Since(a.UpdatedAt) > s.OrphanGrace {
			log.Printf("[REWARDS] %s attempt for %s has no tx handle after %s — marking failed", a.Kind, a.ContributionID, s.OrphanGrace)
			if err := s.Store.TransitionRewardAttempt(a.ContributionID, a.Kind, models.RewardSubmitted, models.RewardFailed); err != nil {
				return err
			}
			metrics.RewardAttempts.WithLabelValues(string(a.Kind), string(models.RewardFailed)).Inc()
		}
		return nil
	}

	status, err := s.Submitter.Poll(ctx, a.TxHandle)
	if err != nil {
		log.Printf("[REWARDS] poll %s failed: %v", a.TxHandle, err)
		return nil // transient; next sweep retries
	}

	switch status {
	case TxConfirmed:
		if err := s.Store.TransitionRewardAttempt(a.ContributionID, a.Kind, models.RewardSubmitted, models.RewardConfirmed); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				return nil // a concurrent reconcile won
			}
			return err
		}
		metrics.RewardAttempts.WithLabelValues(string(a.Kind), string(models.RewardConfirmed)).Inc()
		log.Printf("[REWARDS] %s confirmed for %s (tx=%s)", a.Kind, a.ContributionID, a.TxHandle)
	case TxFailed:
		if err := s.Store.TransitionRewardAttempt(a.ContributionID, a.Kind, models.RewardSubmitted, models.RewardFailed); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				return nil
			}
			return err
		}
		metrics.RewardAttempts.WithLabelValues(string(a.Kind), string(models.RewardFailed)).Inc()
		log.Printf("[REWARDS] %s failed on ledger for %s (tx=%s)", a.Kind, a.ContributionID, a.TxHandle)
	case TxSubmitted:
		// still pending; nothing to record
	}
	return nil
}

// RetryFailedAttempt is the explicit operator action for a failed attempt:
// flip it back to submitted and resubmit the instruction. Never called
// automatically.
func (s *RewardService) RetryFailedAttempt(ctx context.Context, contributionID string, kind models.RewardKind) error {
	c, err := s.Store.Get(contributionID)
	if err != nil {
		return err
	}
	if c.State != models.ContributionApproved {
		return fmt.Errorf("%w: retry on %s contribution", ErrInvalidTransition, c.State)
	}
	if c.SubmitterAddress == "" {
		return fmt.Errorf("%w: contribution has no submitter address", ErrInvalidInput)
	}

	var failed *models.RewardAttempt
	for i := range c.RewardAttempts {
		if c.RewardAttempts[i].Kind == kind {
			failed = &c.RewardAttempts[i]
		}
	}
	if failed == nil || failed.Status != models.RewardFailed {
		return fmt.Errorf("%w: no failed %s attempt for %s", ErrInvalidTransition, kind, contributionID)
	}

	if err := s.Store.TransitionRewardAttempt(contributionID, kind, models.RewardFailed, models.RewardSubmitted); err != nil {
		return err
	}

	instr := RewardInstruction{
		Kind:             kind,
		RecipientAddress: c.SubmitterAddress,
		Description:      fmt.Sprintf("operator retry for contribution %s", contributionID),
	}
	switch kind {
	case models.RewardKindXP:
		instr.Activity = models.ActivityDatasetContribution
		instr.XPAmount = failed.Amount
		if instr.XPAmount == 0 {
			instr.XPAmount = s.Rates[models.ActivityDatasetContribution]
		}
	case models.RewardKindAchievement:
		instr.Tier = models.AchievementTier(failed.Amount)
		instr.MetadataRef = c.PayloadReference
	}

	handle, err := s.Submitter.Submit(ctx, instr)
	if err != nil {
		if terr := s.Store.TransitionRewardAttempt(contributionID, kind, models.RewardSubmitted, models.RewardFailed); terr != nil {
			return terr
		}
		return err
	}
	if err := s.Store.SetRewardTxHandle(contributionID, kind, handle); err != nil {
		return err
	}
	log.Printf("[REWARDS] operator retry submitted %s for %s (tx=%s)", kind, contributionID, handle)

	if kind == models.RewardKindXP {
		// The mint went through this time, so credit the mirror like the
		// normal path would have, then make the achievement decision that
		// was deferred while the XP kind sat failed.
		if _, err := s.Progression.EnsureProgressRecord(c.SubmitterAddress); err != nil {
			return err
		}
		_, crossed, err := s.Progression.AwardXP(c.SubmitterAddress, instr.XPAmount,
			fmt.Sprintf("retry_contribution_%s", contributionID))
		if err != nil {
			return err
		}
		if err := s.Progression.RecordApproval(c.SubmitterAddress); err != nil {
			return err
		}
		return s.issueAchievement(ctx, c, crossed)
	}
	return nil
}

// GrantCustomXP is the admin path for out-of-band XP (not tied to a
// contribution): mints a custom amount and updates the mirror.
func (s *RewardService) GrantCustomXP(ctx context.Context, address string, amount int64, activity models.ActivityType, reason string) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	handle, err := s.Submitter.Submit(ctx, RewardInstruction{
		Kind:             models.RewardKindXP,
		RecipientAddress: address,
		Activity:         activity,
		XPAmount:         amount,
		Description:      reason,
	})
	if err != nil {
		return "", err
	}
	if _, err := s.Progression.EnsureProgressRecord(address); err != nil {
		return handle, err
	}
	if _, _, err := s.Progression.AwardXP(address, amount, reason); err != nil {
		return handle, err
	}
	return handle, nil
}
