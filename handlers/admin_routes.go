// handlers/admin_routes.go
package handlers

import (
	"asl-contribution-system/middleware"
	"asl-contribution-system/models"
	"asl-contribution-system/services"

	"github.com/gofiber/fiber/v2"
)

// SetupAdminRoutes wires the operator-only actions: retrying a failed reward
// attempt (the one deliberate exception to "failed is terminal"), re-running
// issuance after a restart, and out-of-band XP grants.
func SetupAdminRoutes(app *fiber.App, rewards *services.RewardService) {
	admin := app.Group("/s/admin", middleware.UserContextMiddleware(), middleware.RequireRole("admin"))

	admin.Post("/contributions/:id/rewards/:kind/retry", func(c *fiber.Ctx) error {
		kind := models.RewardKind(c.Params("kind"))
		if kind != models.RewardKindXP && kind != models.RewardKindAchievement {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown reward kind"})
		}
		if err := rewards.RetryFailedAttempt(c.Context(), c.Params("id"), kind); err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(fiber.Map{"message": "retry submitted"})
	})

	// Idempotent by construction — safe to call after a restart left an
	// approved contribution without attempts.
	admin.Post("/contributions/:id/rewards/reissue", func(c *fiber.Ctx) error {
		if err := rewards.IssueRewards(c.Context(), c.Params("id")); err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(fiber.Map{"message": "issuance triggered"})
	})

	admin.Post("/xp/grant", func(c *fiber.Ctx) error {
		type Req struct {
			Address  string `json:"address" validate:"required"`
			Amount   int64  `json:"amount" validate:"required,min=1"`
			Activity int    `json:"activity"`
			Reason   string `json:"reason" validate:"max=255"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "cause": err.Error()})
		}
		if req.Address == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "address is required"})
		}

		handle, err := rewards.GrantCustomXP(c.Context(), req.Address, req.Amount, models.ActivityType(req.Activity), req.Reason)
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(fiber.Map{
			"message":   "XP granted",
			"address":   req.Address,
			"amount":    req.Amount,
			"tx_handle": handle,
		})
	})
}
