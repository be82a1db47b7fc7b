package workers

import (
	"context"
	"log"
	"time"

	"asl-contribution-system/services"
)

// PollPendingContributions is the backstop dispatcher: the submit handler
// dispatches evaluation directly, but anything missed (crash between create
// and dispatch, or a burst that outran the workers) is picked up here.
// Claim exclusivity in the store makes double-dispatch harmless.
func PollPendingContributions(ctx context.Context, es *services.EvaluationService, pollInterval time.Duration, concurrency int) {
	log.Println("Starting pending-contribution polling...")
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Pending-contribution polling stopped.")
			return
		case <-ticker.C:
			pending, err := es.Store.FindPending(25)
			if err != nil {
				log.Printf("[EVAL_WORKER] query failed: %v", err)
				continue
			}
			if len(pending) == 0 {
				continue
			}
			log.Printf("[EVAL_WORKER] dispatching %d pending contribution(s)", len(pending))
			for _, c := range pending {
				id := c.ID
				sem <- struct{}{}
				go func() {
					defer func() { <-sem }()
					if err := es.Process(ctx, id); err != nil {
						log.Printf("[EVAL_WORKER] processing %s failed: %v", id, err)
					}
				}()
			}
		}
	}
}
