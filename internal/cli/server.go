package cli

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"prarambh-quiz-service/internal/app"
	"prarambh-quiz-service/internal/auth"
	"prarambh-quiz-service/internal/config"
	"prarambh-quiz-service/internal/domain"
	"prarambh-quiz-service/internal/infra/memory"
	pgrepo "prarambh-quiz-service/internal/infra/postgres"
	"prarambh-quiz-service/internal/infra/questionfile"
	redisinfra "prarambh-quiz-service/internal/infra/redis"
	transport "prarambh-quiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the competition server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var repo app.Repository = memory.NewRepository()
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		repo = pgrepo.NewRepository(pool)
	} else {
		log.Printf("no postgres url configured, using in-memory storage")
	}

	var cache app.LeaderboardCache
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cache = redisinfra.NewLeaderboardCache(client, config.TTLDuration(cfg.Leaderboard.CacheTTL, 30*time.Second))
	}

	tokens, err := auth.NewTokenManager(cfg.Auth.Secret, config.TTLDuration(cfg.Auth.TokenTTL, 24*time.Hour))
	if err != nil {
		return err
	}
	creds := auth.NewBcryptVerifier()

	rules := app.DefaultPassRules()
	if cfg.Competition.Round1PassPercent > 0 {
		rules.Round1PassPercent = cfg.Competition.Round1PassPercent
	}
	if cfg.Competition.Round2PassScore > 0 {
		rules.Round2PassScore = cfg.Competition.Round2PassScore
	}

	questionsDir := cfg.Questions.Dir
	if questionsDir == "" {
		questionsDir = "questions"
	}
	questions := questionfile.NewStore(questionsDir, cfg.Round1Languages())

	qual := app.NewQualificationEngine(repo, repo, cfg.Competition.QualifierCap)
	scorer := app.NewScorer(repo, repo, repo, qual, rules)
	access := app.NewRoundAccessController(repo, repo)
	ledger := app.NewSubmissionLedger(repo, repo)
	leaderboard := app.NewLeaderboardView(repo, repo, cache)
	authSvc := app.NewAuthService(repo, creds, tokens)

	if err := seedAdmin(ctx, repo, creds, cfg); err != nil {
		return err
	}

	handlers := transport.NewHandlers(authSvc, scorer, access, ledger, leaderboard, repo, repo, questions, rules, tokens)
	wsHandler := transport.NewWSHandler(leaderboard)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      handlers.Routes(wsHandler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting quiz service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// seedAdmin creates the configured admin account on first boot. Admins hold
// every round unlocked and are pre-qualified.
func seedAdmin(ctx context.Context, repo app.Repository, creds app.CredentialVerifier, cfg config.Config) error {
	enrollment := cfg.Admin.EnrollmentNo
	if enrollment == "" {
		return nil
	}
	if _, err := repo.FindUserByEnrollment(ctx, enrollment); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return err
	}

	hash, err := creds.Hash(cfg.Admin.Password)
	if err != nil {
		return err
	}
	username := cfg.Admin.Username
	if username == "" {
		username = "admin"
	}
	_, err = repo.CreateUser(ctx, domain.User{
		EnrollmentNo:       enrollment,
		Username:           username,
		PasswordHash:       hash,
		IsAdmin:            true,
		CurrentRound:       domain.Round3,
		QualifiedForRound3: true,
		RegisteredAt:       time.Now(),
	})
	if err != nil && !errors.Is(err, domain.ErrEnrollmentTaken) {
		return err
	}
	if err == nil {
		log.Printf("seeded admin user %q", username)
	}
	return nil
}
