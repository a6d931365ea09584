package di

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/account-lifecycle-service/internal/config"
	"github.com/sandeepkv93/account-lifecycle-service/internal/database"
	"github.com/sandeepkv93/account-lifecycle-service/internal/http/router"
	"github.com/sandeepkv93/account-lifecycle-service/internal/mailer"
	"github.com/sandeepkv93/account-lifecycle-service/internal/observability"
	"github.com/sandeepkv93/account-lifecycle-service/internal/security"
	"github.com/sandeepkv93/account-lifecycle-service/internal/service"
)

func newTestJWT() *security.JWTManager {
	return security.NewJWTManager(
		"iss",
		"aud",
		"abcdefghijklmnopqrstuvwxyz123456",
		"abcdefghijklmnopqrstuvwxyz654321",
	)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, target, bearer string) int {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = "10.0.0.1:1234"
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr.Code
}

func TestProvideHTTPServer(t *testing.T) {
	cfg := &config.Config{HTTPPort: "9999"}
	srv := provideHTTPServer(cfg, nil)
	if srv.Addr != ":9999" {
		t.Fatalf("unexpected addr: %s", srv.Addr)
	}
	if srv.ReadTimeout.Seconds() != 10 {
		t.Fatalf("unexpected read timeout: %v", srv.ReadTimeout)
	}
	if srv.ReadHeaderTimeout == 0 {
		t.Fatal("expected read header timeout")
	}
}

func TestProvideRouterDependencies(t *testing.T) {
	cfg := &config.Config{CORSAllowedOrigins: []string{"http://localhost:3000"}, AuthRateLimitPerMin: 10, APIRateLimitPerMin: 100, OTELMetricsEnabled: true}
	dep := provideRouterDependencies(nil, nil, nil, nil, nil, nil, nil, cfg)
	if dep.AuthRateLimitRPM != 10 || dep.APIRateLimitRPM != 100 {
		t.Fatalf("unexpected rate limits: %+v", dep)
	}
	if !dep.EnableOTelHTTP {
		t.Fatal("expected otel http enabled")
	}
	if len(dep.CORSOrigins) != 1 || dep.CORSOrigins[0] != "http://localhost:3000" {
		t.Fatalf("unexpected cors origins: %+v", dep.CORSOrigins)
	}
	_ = router.Dependencies(dep)
}

func TestProvideAuthRateLimiterFallback(t *testing.T) {
	cfg := &config.Config{AuthRateLimitPerMin: 1}
	h := provideAuthRateLimiter(cfg, nil)(okHandler())

	if code := serve(h, "/auth/login", ""); code != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", code)
	}
	if code := serve(h, "/auth/login", ""); code != http.StatusTooManyRequests {
		t.Fatalf("expected second request limited, got %d", code)
	}
}

func TestProvideAuthRateLimiterRedisFailClosed(t *testing.T) {
	cfg := &config.Config{RedisEnabled: true, RateLimitRedisPrefix: "rl", AuthRateLimitPerMin: 5}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	t.Cleanup(func() { _ = client.Close() })

	h := provideAuthRateLimiter(cfg, client)(okHandler())
	if code := serve(h, "/auth/login", ""); code != http.StatusTooManyRequests {
		t.Fatalf("expected fail-closed response when redis unavailable, got %d", code)
	}
}

func TestProvideAPIRateLimiterRedisFailOpen(t *testing.T) {
	cfg := &config.Config{RedisEnabled: true, RateLimitRedisPrefix: "rl", APIRateLimitPerMin: 5}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	t.Cleanup(func() { _ = client.Close() })

	h := provideAPIRateLimiter(cfg, client, newTestJWT())(okHandler())
	if code := serve(h, "/api/me", ""); code != http.StatusOK {
		t.Fatalf("expected fail-open response when redis unavailable, got %d", code)
	}
}

func TestProvideAPIRateLimiterRedisKeysBySubject(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	jwt := newTestJWT()
	alice, err := jwt.SignAccessToken("alice", time.Minute)
	if err != nil {
		t.Fatalf("sign alice: %v", err)
	}
	bob, err := jwt.SignAccessToken("bob", time.Minute)
	if err != nil {
		t.Fatalf("sign bob: %v", err)
	}

	cfg := &config.Config{RedisEnabled: true, RateLimitRedisPrefix: "rl", APIRateLimitPerMin: 1}
	h := provideAPIRateLimiter(cfg, client, jwt)(okHandler())

	if code := serve(h, "/api/me", alice); code != http.StatusOK {
		t.Fatalf("expected alice allowed, got %d", code)
	}
	if code := serve(h, "/api/me", bob); code != http.StatusOK {
		t.Fatalf("expected bob counted separately from alice, got %d", code)
	}
	if code := serve(h, "/api/me", alice); code != http.StatusTooManyRequests {
		t.Fatalf("expected alice limited, got %d", code)
	}

	var found bool
	for _, key := range mr.Keys() {
		if strings.HasPrefix(key, "rl:api") && strings.Contains(key, "sub:alice") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected subject bucket under rl:api prefix, got keys %v", mr.Keys())
	}
}

func TestProvideRedisClientDisabled(t *testing.T) {
	if client := provideRedisClient(&config.Config{RedisEnabled: false}, discardLogger()); client != nil {
		t.Fatal("expected nil client when redis disabled")
	}
	client := provideRedisClient(&config.Config{RedisEnabled: true, RedisAddr: "127.0.0.1:1"}, discardLogger())
	if client == nil {
		t.Fatal("expected redis client when enabled")
	}
	_ = client.Close()
}

func TestProvideDeliveryNotifier(t *testing.T) {
	n, err := provideDeliveryNotifier(&config.Config{}, discardLogger())
	if err != nil {
		t.Fatalf("dev notifier: %v", err)
	}
	if _, ok := n.(*service.DevNotifier); !ok {
		t.Fatalf("expected dev notifier, got %T", n)
	}

	cfg := &config.Config{
		SMTPEnabled:   true,
		SMTPHost:      "smtp.example.com",
		SMTPPort:      587,
		SMTPFrom:      "no-reply@example.com",
		SMTPTLSPolicy: "mandatory",
		SMTPTimeout:   time.Second,
	}
	n, err = provideDeliveryNotifier(cfg, discardLogger())
	if err != nil {
		t.Fatalf("smtp notifier: %v", err)
	}
	if _, ok := n.(*mailer.SMTPMailer); !ok {
		t.Fatalf("expected smtp mailer, got %T", n)
	}
}

func TestProvideNotifiersInline(t *testing.T) {
	cfg := &config.Config{NotifyMode: config.NotifyModeInline}
	n, err := provideNotifiers(cfg, discardLogger(), nil)
	if err != nil {
		t.Fatalf("provide notifiers: %v", err)
	}
	if n.Queue != nil {
		t.Fatal("expected no queue in inline mode")
	}
	if n.Lifecycle != n.Delivery {
		t.Fatal("expected lifecycle notifications to go straight to delivery")
	}
	if w := provideNotificationWorker(cfg, n, discardLogger()); w != nil {
		t.Fatal("expected no worker in inline mode")
	}
}

func TestProvideNotifiersQueueRequiresRedis(t *testing.T) {
	cfg := &config.Config{NotifyMode: config.NotifyModeQueue, NotifyQueueKey: "outbox"}
	if _, err := provideNotifiers(cfg, discardLogger(), nil); err == nil {
		t.Fatal("expected error without redis client")
	}
}

func TestProvideNotifiersQueueWiresWorkerAndReadiness(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := &config.Config{
		RedisEnabled:            true,
		NotifyMode:              config.NotifyModeQueue,
		NotifyQueueKey:          "notifications:outbox",
		NotifyWorkerPollTimeout: 50 * time.Millisecond,
		NotifyOutboxMaxBacklog:  1,
		ReadinessProbeTimeout:   time.Second,
	}
	n, err := provideNotifiers(cfg, discardLogger(), client)
	if err != nil {
		t.Fatalf("provide notifiers: %v", err)
	}
	if n.Queue == nil || n.Lifecycle != service.Notifier(n.Queue) {
		t.Fatal("expected lifecycle notifications to go through the queue")
	}
	if w := provideNotificationWorker(cfg, n, discardLogger()); w == nil {
		t.Fatal("expected worker in queue mode")
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := n.Lifecycle.SendEmailVerification(ctx, service.VerificationNotification{Email: "a@example.com"}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	readiness := provideReadinessProbeRunner(cfg, nil, client, n)
	ready, results := readiness.Ready(ctx)
	if ready {
		t.Fatalf("expected backlog above threshold to fail readiness: %+v", results)
	}
	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Name)
	}
	if strings.Join(names, ",") != "redis,notification_outbox" {
		t.Fatalf("unexpected checks: %v", names)
	}
}

func TestProvideApp(t *testing.T) {
	cfg := &config.Config{HTTPPort: "8080"}
	logger := slog.Default()
	srv := &http.Server{Addr: ":8080", ReadHeaderTimeout: time.Second}
	runtime := &observability.Runtime{}

	app := provideApp(cfg, logger, srv, runtime, nil, nil, nil, nil)
	if app == nil {
		t.Fatal("expected app")
	}
	if app.Config != cfg || app.Logger != logger || app.Server != srv || app.Observability != runtime {
		t.Fatal("app dependencies not wired as expected")
	}
	if app.Worker != nil {
		t.Fatal("expected no worker")
	}
}

func TestMigrationRunner(t *testing.T) {
	cfg := &config.Config{DatabaseURL: "file:di_migration_runner?mode=memory&cache=shared"}
	db, err := provideOpenDB(cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	var out bytes.Buffer
	runner := NewMigrationRunner(cfg, db).WithOutput(&out)

	steps, err := runner.Plan()
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(steps) == 0 || !strings.HasPrefix(steps[0], "create table") {
		t.Fatalf("expected create table step, got %v", steps)
	}
	if err := runner.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "migration complete (sqlite)") {
		t.Fatalf("unexpected output %q", out.String())
	}
	steps, err = runner.Plan()
	if err != nil {
		t.Fatalf("plan after migrate: %v", err)
	}
	if len(steps) != 0 {
		t.Fatalf("expected no pending steps, got %v", steps)
	}
	if err := database.Migrate(runner.DB()); err != nil {
		t.Fatalf("migrate should be idempotent: %v", err)
	}
}
