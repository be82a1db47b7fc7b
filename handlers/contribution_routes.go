// handlers/contribution_routes.go
package handlers

import (
	"context"
	"errors"
	"log"
	"mime/multipart"

	"asl-contribution-system/metrics"
	"asl-contribution-system/middleware"
	"asl-contribution-system/models"
	"asl-contribution-system/services"

	"github.com/gofiber/fiber/v2"
)

// ContributionDeps bundles what the contribution routes need. Upload is
// injected so tests can bypass the blob store.
type ContributionDeps struct {
	Store       *services.ContributionStore
	Eval        *services.EvaluationService
	Rewards     *services.RewardService
	Progression *services.ProgressionService
	Upload      func(fileHeader *multipart.FileHeader, key string) (string, error)
	SampleKey   func(label, filename string) string
}

func SetupContributionRoutes(app *fiber.App, deps ContributionDeps) {
	// Public route — no user context, but still behind Gateway auth.
	app.Get("/contributions/:id/status", func(c *fiber.Ctx) error {
		id := c.Params("id")

		// Opportunistic reconciliation: polling clients drive pending
		// attempts toward a terminal status. Best-effort only.
		if err := deps.Rewards.ReconcilePending(c.Context(), id); err != nil && !errors.Is(err, services.ErrNotFound) {
			log.Printf("[STATUS] reconcile for %s: %v", id, err)
		}

		contrib, err := deps.Store.Get(id)
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(statusDocument(contrib))
	})

	// Secured routes — require user context forwarded by the Gateway.
	secured := app.Group("/s", middleware.UserContextMiddleware())

	secured.Post("/contributions", func(c *fiber.Ctx) error {
		label := c.FormValue("label")
		if label == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "label is required"})
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "sample file is required"})
		}

		walletAddress, _ := c.Locals("wallet_address").(string)

		key := deps.SampleKey(label, fileHeader.Filename)
		reference, err := deps.Upload(fileHeader, key)
		if err != nil {
			log.Printf("[SUBMIT] upload failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to store sample"})
		}

		contrib, err := deps.Store.Create(walletAddress, reference, label)
		if err != nil {
			return errorResponse(c, err)
		}
		metrics.ContributionsSubmitted.Inc()

		if err := deps.Progression.RecordSubmission(walletAddress); err != nil {
			log.Printf("[SUBMIT] progress counter for %s: %v", walletAddress, err)
		}

		// Fast path: dispatch evaluation immediately. The pending-poll worker
		// is the backstop if this goroutine never runs.
		id := contrib.ID
		go func() {
			if err := deps.Eval.Process(context.Background(), id); err != nil {
				log.Printf("[SUBMIT] evaluation dispatch for %s: %v", id, err)
			}
		}()

		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"contribution_id": contrib.ID,
			"state":           contrib.State,
		})
	})

	secured.Get("/user/progress", func(c *fiber.Ctx) error {
		walletAddress, _ := c.Locals("wallet_address").(string)
		if walletAddress == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "no wallet address in user context"})
		}

		prog, err := deps.Progression.GetProgress(walletAddress)
		if errors.Is(err, services.ErrNotFound) {
			prog, err = deps.Progression.EnsureProgressRecord(walletAddress)
		}
		if err != nil {
			return errorResponse(c, err)
		}

		return c.JSON(fiber.Map{
			"submitter_address":   prog.SubmitterAddress,
			"total_xp":            prog.TotalXP,
			"tier":                int(prog.Tier),
			"tier_name":           prog.Tier.String(),
			"total_contributions": prog.TotalContributions,
			"total_approved":      prog.TotalApproved,
			"last_tier_up_at":     prog.LastTierUpAt,
		})
	})
}

// statusDocument is the read-only projection for polling clients. Internal
// retry counters and raw scorer failures never appear here — only the coarse
// reason when rejected.
func statusDocument(contrib *models.Contribution) fiber.Map {
	doc := fiber.Map{
		"contribution_id": contrib.ID,
		"state":           contrib.State,
		"created_at":      contrib.CreatedAt,
	}
	if contrib.State.Terminal() {
		doc["score"] = contrib.Score
		doc["decided_at"] = contrib.DecidedAt
	}
	if contrib.State == models.ContributionRejected {
		reason := "quality"
		if contrib.RejectReason == models.RejectReasonSystem {
			reason = "system"
		}
		doc["reason"] = reason
	}

	rewards := fiber.Map{}
	for _, a := range contrib.RewardAttempts {
		entry := fiber.Map{"status": a.Status}
		if a.Status == models.RewardConfirmed {
			entry["tx_handle"] = a.TxHandle
		}
		rewards[string(a.Kind)] = entry
	}
	doc["rewards"] = rewards
	return doc
}

// errorResponse maps pipeline sentinel errors to HTTP statuses.
func errorResponse(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "contribution not found"})
	case errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrInvalidTransition), errors.Is(err, services.ErrConflictingVerdict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	default:
		log.Printf("[HTTP] internal error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}
