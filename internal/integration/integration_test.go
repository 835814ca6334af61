package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"prarambh-quiz-service/internal/app"
	"prarambh-quiz-service/internal/auth"
	"prarambh-quiz-service/internal/domain"
	pgrepo "prarambh-quiz-service/internal/infra/postgres"
	pgmigrations "prarambh-quiz-service/internal/infra/postgres/migrations"
	infraredis "prarambh-quiz-service/internal/infra/redis"
)

func TestCompetitionEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	applyMigrations(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()
	repo := pgrepo.NewRepository(pool)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	cache := infraredis.NewLeaderboardCache(redisClient, time.Minute)

	tokens, err := auth.NewTokenManager("integration-secret", time.Hour)
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	creds := auth.NewBcryptVerifier()

	qual := app.NewQualificationEngine(repo, repo, app.DefaultQualifierCap)
	scorer := app.NewScorer(repo, repo, repo, qual, app.DefaultPassRules())
	access := app.NewRoundAccessController(repo, repo)
	ledger := app.NewSubmissionLedger(repo, repo)
	leaderboard := app.NewLeaderboardView(repo, repo, cache)
	authSvc := app.NewAuthService(repo, creds, tokens)

	adminHash, err := creds.Hash("adminpass")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	admin, err := repo.CreateUser(ctx, domain.User{
		EnrollmentNo:       "EN-ADMIN",
		Username:           "admin",
		PasswordHash:       adminHash,
		IsAdmin:            true,
		CurrentRound:       domain.Round3,
		QualifiedForRound3: true,
		RegisteredAt:       time.Now(),
	})
	if err != nil {
		t.Fatalf("seed admin: %v", err)
	}

	for _, round := range []int{domain.Round1, domain.Round2, domain.Round3} {
		if _, err := access.SetRoundAccess(ctx, admin.ID, round, true); err != nil {
			t.Fatalf("open round %d: %v", round, err)
		}
	}

	alice, err := authSvc.Register(ctx, "EN-100", "alice", "s3cret")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, token, err := authSvc.Login(ctx, "EN-100", "s3cret"); err != nil || token == "" {
		t.Fatalf("login: token=%q err=%v", token, err)
	}

	res, err := scorer.RecordAttempt(ctx, alice.ID, domain.Round1, "python", 12, 20)
	if err != nil {
		t.Fatalf("round 1 attempt: %v", err)
	}
	if !res.Passed || res.User.CurrentRound != domain.Round2 {
		t.Fatalf("expected round 1 pass unlocking round 2, got %+v", res)
	}
	if _, err := scorer.RecordAttempt(ctx, alice.ID, domain.Round1, "python", 15, 20); err != domain.ErrAlreadyAttempted {
		t.Fatalf("expected ErrAlreadyAttempted on retake, got %v", err)
	}

	res, err = scorer.RecordAttempt(ctx, alice.ID, domain.Round2, "", 10, 20)
	if err != nil {
		t.Fatalf("round 2 attempt: %v", err)
	}
	if !res.Passed || !res.Qualified {
		t.Fatalf("expected round 2 pass and qualification, got %+v", res)
	}

	if _, err := ledger.SetTrack(ctx, alice.ID, domain.TrackDSA); err != nil {
		t.Fatalf("set track: %v", err)
	}
	sub, err := ledger.Submit(ctx, alice.ID, "two-sum", domain.TrackDSA, "Two Sum", "def solve(): pass", "python")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := ledger.Score(ctx, admin.ID, sub.ID, app.ScoreAccepted); err != nil {
		t.Fatalf("score accepted: %v", err)
	}
	// Rescoring folds into the same accumulator rather than replacing it.
	if _, err := ledger.Score(ctx, admin.ID, sub.ID, app.ScoreRejected); err != nil {
		t.Fatalf("score rejected: %v", err)
	}

	got, err := repo.GetUser(ctx, alice.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if want := 12 + 10 + app.ScoreAccepted + app.ScoreRejected; got.TotalScore != want {
		t.Fatalf("expected total score %d, got %d", want, got.TotalScore)
	}

	adminLB, err := leaderboard.Build(ctx, admin)
	if err != nil {
		t.Fatalf("admin leaderboard: %v", err)
	}
	aliceRow := findEntry(t, adminLB, alice.ID)
	if aliceRow.Score != got.TotalScore || aliceRow.Qualified == nil || !*aliceRow.Qualified {
		t.Fatalf("expected admin view with full score and qualified flag, got %+v", aliceRow)
	}

	publicLB, err := leaderboard.Build(ctx, domain.User{})
	if err != nil {
		t.Fatalf("public leaderboard: %v", err)
	}
	aliceRow = findEntry(t, publicLB, alice.ID)
	if aliceRow.Score != 12+10 {
		t.Fatalf("expected public view without round 3 points, got score %d", aliceRow.Score)
	}
	if aliceRow.Qualified != nil {
		t.Fatalf("public view must not expose qualification, got %+v", aliceRow)
	}

	// Nine slots remain below the cap; fifteen racers may win exactly nine.
	racers := make([]domain.User, 15)
	for i := range racers {
		u, err := repo.CreateUser(ctx, domain.User{
			EnrollmentNo: fmt.Sprintf("EN-2%02d", i),
			Username:     fmt.Sprintf("racer%02d", i),
			CurrentRound: domain.Round2,
			RegisteredAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("create racer: %v", err)
		}
		racers[i] = u
	}
	var wg sync.WaitGroup
	admitted := make(chan bool, len(racers))
	for _, u := range racers {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			ok, err := repo.ReserveQualificationSlot(ctx, id, app.DefaultQualifierCap)
			if err != nil {
				t.Errorf("reserve slot: %v", err)
				return
			}
			admitted <- ok
		}(u.ID)
	}
	wg.Wait()
	close(admitted)
	wins := 0
	for ok := range admitted {
		if ok {
			wins++
		}
	}
	if wins != app.DefaultQualifierCap-1 {
		t.Fatalf("expected %d slot wins, got %d", app.DefaultQualifierCap-1, wins)
	}

	// Concurrent valid attempts for one user fold into the total without
	// overwriting each other.
	chris, err := authSvc.Register(ctx, "EN-102", "chris", "s3cret")
	if err != nil {
		t.Fatalf("register chris: %v", err)
	}
	startAttempts := make(chan struct{})
	var attemptWG sync.WaitGroup
	for _, language := range []string{"python", "c"} {
		attemptWG.Add(1)
		go func(language string) {
			defer attemptWG.Done()
			<-startAttempts
			if _, err := scorer.RecordAttempt(ctx, chris.ID, domain.Round1, language, 12, 20); err != nil {
				t.Errorf("record %s attempt: %v", language, err)
			}
		}(language)
	}
	close(startAttempts)
	attemptWG.Wait()
	chrisAfter, err := repo.GetUser(ctx, chris.ID)
	if err != nil {
		t.Fatalf("get chris: %v", err)
	}
	if chrisAfter.TotalScore != 24 {
		t.Fatalf("lost a concurrent score fold: total %d, want 24", chrisAfter.TotalScore)
	}

	// Closing a gate force-finalizes open attempts and keeps partial scores.
	bob, err := authSvc.Register(ctx, "EN-101", "bob", "s3cret")
	if err != nil {
		t.Fatalf("register bob: %v", err)
	}
	if _, err := scorer.BeginAttempt(ctx, bob.ID, domain.Round1, "c", 20); err != nil {
		t.Fatalf("begin attempt: %v", err)
	}
	if _, err := scorer.SaveProgress(ctx, bob.ID, domain.Round1, "c", 5); err != nil {
		t.Fatalf("save progress: %v", err)
	}
	if _, err := access.SetRoundAccess(ctx, admin.ID, domain.Round1, false); err != nil {
		t.Fatalf("close round 1: %v", err)
	}
	bobAfter, err := repo.GetUser(ctx, bob.ID)
	if err != nil {
		t.Fatalf("get bob: %v", err)
	}
	if bobAfter.TotalScore != 5 {
		t.Fatalf("expected folded partial score 5, got %d", bobAfter.TotalScore)
	}
	closedAttempt, err := repo.FindAttempt(ctx, bob.ID, domain.Round1, "c")
	if err != nil {
		t.Fatalf("find attempt: %v", err)
	}
	if !closedAttempt.Completed {
		t.Fatalf("expected force-finalized attempt, got %+v", closedAttempt)
	}
}

func findEntry(t *testing.T, lb domain.Leaderboard, userID int64) domain.LeaderboardEntry {
	t.Helper()
	for _, e := range lb.Entries {
		if e.UserID == userID {
			return e
		}
	}
	t.Fatalf("user %d missing from leaderboard %+v", userID, lb.Entries)
	return domain.LeaderboardEntry{}
}

func applyMigrations(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
