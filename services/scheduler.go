// services/scheduler.go
package services

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartRecoveryScheduler runs the stuck-evaluation sweep on an interval.
// Any contribution abandoned mid-evaluation (crash, scorer outage) is
// re-admitted or terminated by this job — nothing waits forever.
func (s *EvaluationService) StartRecoveryScheduler(interval time.Duration) {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			s.Sweep(context.Background())
		}),
	)
	log.Printf("[EVAL] recovery sweep scheduled every %s", interval)
}
