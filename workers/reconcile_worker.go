package workers

import (
	"context"
	"log"
	"time"

	"asl-contribution-system/services"
)

// PollRewardAttempts resolves submitted reward attempts to their terminal
// ledger status. Status queries also reconcile opportunistically; this loop
// guarantees progress for contributions nobody is polling.
func PollRewardAttempts(ctx context.Context, rs *services.RewardService, pollInterval time.Duration) {
	log.Println("Starting reward-attempt reconciliation polling...")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Reward-attempt reconciliation stopped.")
			return
		case <-ticker.C:
			if err := rs.ReconcileAll(ctx, 50); err != nil {
				log.Printf("[RECONCILE] sweep error: %v", err)
			}
		}
	}
}
