package services

import (
	"context"
	"errors"
	"log"
	"time"

	"asl-contribution-system/metrics"
)

// EvaluationService drives each contribution through scoring exactly once.
// The claim (AdvanceToEvaluating) is the only concurrency guard: whoever
// wins the conditional update owns the contribution; everyone else abandons.
type EvaluationService struct {
	Store   *ContributionStore
	Scorer  Scorer
	Rewards *RewardService

	ScorerTimeout time.Duration // per scorer call
	MaxAttempts   int           // evaluation retry budget
	StuckAfter    time.Duration // evaluating claims older than this are reclaimable
}

func NewEvaluationService(store *ContributionStore, scorer Scorer, rewards *RewardService) *EvaluationService {
	return &EvaluationService{
		Store:         store,
		Scorer:        scorer,
		Rewards:       rewards,
		ScorerTimeout: 60 * time.Second,
		MaxAttempts:   3,
		StuckAfter:    5 * time.Minute,
	}
}

// Process claims a pending contribution and evaluates it. Losing the claim
// race is not an error — another worker owns the contribution.
func (s *EvaluationService) Process(ctx context.Context, contributionID string) error {
	if err := s.Store.AdvanceToEvaluating(contributionID); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return nil
		}
		return err
	}
	return s.evaluate(ctx, contributionID)
}

// evaluate runs one scorer round for a claimed contribution. Scorer failure
// leaves the row in evaluating for the recovery sweep; only exhausting the
// retry budget terminates it as rejected(system).
func (s *EvaluationService) evaluate(ctx context.Context, contributionID string) error {
	c, err := s.Store.Get(contributionID)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, s.ScorerTimeout)
	verdict, err := s.Scorer.Evaluate(cctx, c.PayloadReference, c.Label)
	cancel()
	if err != nil {
		log.Printf("[EVAL] scorer failed for %s (attempt %d/%d): %v", contributionID, c.EvalAttempts, s.MaxAttempts, err)
		if c.EvalAttempts >= s.MaxAttempts {
			if err := s.Store.MarkEvaluationFailed(contributionID); err != nil {
				return err
			}
			metrics.EvaluationVerdicts.WithLabelValues("rejected_system").Inc()
			log.Printf("[EVAL] retries exhausted for %s — rejected (evaluation failed)", contributionID)
		}
		return nil // transient failure absorbed
	}

	if err := s.Store.RecordVerdict(contributionID, verdict.Score, verdict.Approved); err != nil {
		return err
	}

	if verdict.Approved {
		metrics.EvaluationVerdicts.WithLabelValues("approved").Inc()
		log.Printf("[EVAL] approved %s (score=%.2f)", contributionID, verdict.Score)
		// Fire-and-forget: verdict recording must never wait on reward
		// settlement latency.
		go func() {
			if err := s.Rewards.IssueRewards(context.Background(), contributionID); err != nil {
				log.Printf("[EVAL] reward issuance error for %s: %v", contributionID, err)
			}
		}()
	} else {
		metrics.EvaluationVerdicts.WithLabelValues("rejected_quality").Inc()
		log.Printf("[EVAL] rejected %s (score=%.2f)", contributionID, verdict.Score)
	}
	return nil
}

// Sweep re-admits contributions stuck in evaluating past the deadline.
// Within budget they are re-claimed and re-scored; past it they terminate as
// rejected(system). Invoked on a schedule; see StartRecoveryScheduler.
func (s *EvaluationService) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.StuckAfter)
	stale, err := s.Store.FindStaleEvaluating(cutoff, 50)
	if err != nil {
		log.Printf("[EVAL] sweep query failed: %v", err)
		return
	}
	for _, c := range stale {
		if c.EvalAttempts >= s.MaxAttempts {
			if err := s.Store.MarkEvaluationFailed(c.ID); err != nil && !errors.Is(err, ErrInvalidTransition) {
				log.Printf("[EVAL] sweep could not fail %s: %v", c.ID, err)
				continue
			}
			metrics.EvaluationVerdicts.WithLabelValues("rejected_system").Inc()
			log.Printf("[EVAL] sweep: retries exhausted for %s — rejected (evaluation failed)", c.ID)
			continue
		}
		if err := s.Store.ReclaimStale(c.ID, cutoff); err != nil {
			// Some other sweep or a late verdict beat us to it.
			continue
		}
		log.Printf("[EVAL] sweep re-claimed %s (attempt %d/%d)", c.ID, c.EvalAttempts+1, s.MaxAttempts)
		if err := s.evaluate(ctx, c.ID); err != nil {
			log.Printf("[EVAL] sweep evaluation error for %s: %v", c.ID, err)
		}
	}
}
