package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        int64
}

type Result struct {
	TotalRequests int64
	Failures      int64
	Status2xx     int64
	Status4xx     int64
	Status5xx     int64
}

type request struct {
	method string
	path   string
	body   []byte
}

// step builds the next request; n is the dispatch counter.
type step func(rng *rand.Rand, n int) request

func Run(ctx context.Context, cfg Config) (Result, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 15
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}

	steps := stepsForProfile(cfg.Profile)
	if len(steps) == 0 {
		return Result{}, fmt.Errorf("unknown profile: %s", cfg.Profile)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	rng := rand.New(rand.NewPCG(uint64(cfg.Seed), uint64(time.Now().UnixNano())))

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	var total, failures, s2xx, s4xx, s5xx atomic.Int64
	jobs := make(chan request, cfg.Concurrency*2)
	var wg sync.WaitGroup

	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				req, err := http.NewRequestWithContext(ctx, job.method, cfg.BaseURL+job.path, bytes.NewReader(job.body))
				if err != nil {
					failures.Add(1)
					continue
				}
				if job.body != nil {
					req.Header.Set("Content-Type", "application/json")
				}
				resp, err := client.Do(req)
				if err != nil {
					if ctx.Err() == nil {
						failures.Add(1)
					}
					continue
				}
				_ = resp.Body.Close()
				total.Add(1)
				switch {
				case resp.StatusCode >= 200 && resp.StatusCode < 300:
					s2xx.Add(1)
				case resp.StatusCode >= 400 && resp.StatusCode < 500:
					s4xx.Add(1)
				case resp.StatusCode >= 500:
					s5xx.Add(1)
				}
			}
		}()
	}

	ticker := time.NewTicker(time.Second / time.Duration(cfg.RPS))
	defer ticker.Stop()
	n := 0
	for {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return Result{
				TotalRequests: total.Load(),
				Failures:      failures.Load(),
				Status2xx:     s2xx.Load(),
				Status4xx:     s4xx.Load(),
				Status5xx:     s5xx.Load(),
			}, nil
		case <-ticker.C:
			select {
			case jobs <- steps[n%len(steps)](rng, n):
				n++
			case <-ctx.Done():
			}
		}
	}
}

func jsonBody(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func register(rng *rand.Rand, n int) request {
	email := fmt.Sprintf("loadgen-%d-%08x@example.com", n, rng.Uint32())
	return request{http.MethodPost, "/auth/register", jsonBody(map[string]string{
		"name":     "Load Gen",
		"email":    email,
		"password": "loadgen-password",
	})}
}

func badLogin(*rand.Rand, int) request {
	return request{http.MethodPost, "/auth/login", jsonBody(map[string]string{
		"email":    "nobody@example.com",
		"password": "wrong-password",
	})}
}

func missingRefresh(*rand.Rand, int) request {
	return request{http.MethodPost, "/auth/refresh", jsonBody(map[string]string{})}
}

func unknownReset(rng *rand.Rand, _ int) request {
	return request{http.MethodPost, "/auth/request-password-reset", jsonBody(map[string]string{
		"email": fmt.Sprintf("unknown-%08x@example.com", rng.Uint32()),
	})}
}

func bogusVerify(rng *rand.Rand, _ int) request {
	return request{http.MethodGet, fmt.Sprintf("/auth/verify-email/%016x", rng.Uint64()), nil}
}

func bogusResetToken(rng *rand.Rand, _ int) request {
	return request{http.MethodGet, fmt.Sprintf("/auth/reset-password/%016x", rng.Uint64()), nil}
}

func readiness(*rand.Rand, int) request {
	return request{http.MethodGet, "/health/ready", nil}
}

func stepsForProfile(profile string) []step {
	switch strings.ToLower(profile) {
	case "", "mixed":
		return []step{register, badLogin, missingRefresh, readiness, bogusResetToken}
	case "auth":
		return []step{register, badLogin, unknownReset}
	case "error-heavy":
		return []step{missingRefresh, bogusVerify, bogusResetToken, badLogin}
	default:
		return nil
	}
}
