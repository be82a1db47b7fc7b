package main

import (
	"context"
	"log"
	"mime/multipart"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"asl-contribution-system/handlers"
	"asl-contribution-system/middleware"
	"asl-contribution-system/models"
	"asl-contribution-system/services"
	"asl-contribution-system/utils"
	"asl-contribution-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 100 * 1024 * 1024, // 100MB — sign samples are short clips
	})

	// Only Gateway requests allowed — no exceptions.
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("ALLOWED_ORIGINS not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(allowedOriginsList, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID, X-Wallet-Address, X-User-Roles",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Contribution{},
		&models.RewardAttempt{},
		&models.ContributorProgress{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	// Payload storage: R2 in production, local uploads/ when unconfigured.
	var payloads services.PayloadStore
	var upload func(*multipart.FileHeader, string) (string, error)
	if os.Getenv("R2_BUCKET_NAME") != "" {
		if err := utils.InitR2(); err != nil {
			log.Fatal("failed to initialize R2 client:", err)
		}
		payloads = utils.R2PayloadStore{}
		upload = utils.UploadSampleToR2
		log.Println("Sample storage: R2")
	} else {
		if err := utils.EnsureUploadDir(); err != nil {
			log.Fatal("failed to ensure upload dir:", err)
		}
		payloads = utils.LocalPayloadStore{}
		upload = utils.SaveSampleLocally
		log.Println("Sample storage: local uploads/ (R2 not configured)")
	}

	scorerURL := os.Getenv("SCORER_SERVICE_URL")
	if scorerURL == "" {
		log.Fatal("SCORER_SERVICE_URL environment variable not set")
	}
	chainURL := os.Getenv("CHAIN_SERVICE_URL")
	if chainURL == "" {
		log.Fatal("CHAIN_SERVICE_URL environment variable not set")
	}
	serviceToken := os.Getenv("CONTRIBUTION_SERVICE_TOKEN")

	store := services.NewContributionStore(db, payloads)
	progression := services.NewProgressionService(db, models.DefaultTierThresholds)
	submitter := services.NewSubmitterClient(services.SubmitterConfig{
		BaseURL: chainURL,
		Token:   serviceToken,
		Timeout: 30 * time.Second,
	})
	rewardService := services.NewRewardService(store, progression, submitter, models.DefaultXPRates)
	scorer := services.NewScorerClient(scorerURL, serviceToken, 60*time.Second)
	evalService := services.NewEvaluationService(store, scorer, rewardService)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go workers.PollPendingContributions(ctx, evalService, 10*time.Second, 4)
	go workers.PollRewardAttempts(ctx, rewardService, 15*time.Second)

	evalService.StartRecoveryScheduler(1 * time.Minute)

	handlers.SetupContributionRoutes(app, handlers.ContributionDeps{
		Store:       store,
		Eval:        evalService,
		Rewards:     rewardService,
		Progression: progression,
		Upload:      upload,
		SampleKey:   utils.SampleKey,
	})
	handlers.SetupAdminRoutes(app, rewardService)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("Server running on http://localhost:5300")
	log.Println("Pending-contribution polling running (every 10s)")
	log.Println("Reward reconciliation running (every 15s)")
	log.Println("Stuck-evaluation recovery sweep running (every 1m)")

	<-ctx.Done()
	log.Println("Shutting down server...")
}
