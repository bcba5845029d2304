package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	mrand "math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	goRotate "github.com/MrEthical07/goRotate"
)

type familyState struct {
	principal string
	refresh   string
	access    string
	dead      bool
	mu        sync.Mutex
}

func main() {
	var (
		principals  = flag.Int("principals", 20000, "number of principals to log in")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (validate + rotate)")
		racers      = flag.Int("racers", 16, "goroutines presenting the same token in the reuse phase")
		races       = flag.Int("races", 200, "number of reuse races")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		verbose     = flag.Bool("v", false, "log engine warnings to stderr")
	)
	flag.Parse()

	if *principals <= 0 || *concurrency <= 0 || *ops <= 0 || *racers < 2 || *races <= 0 {
		fmt.Fprintln(os.Stderr, "principals, concurrency, ops and races must be > 0; racers must be >= 2")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	logger := zerolog.Nop()
	if *verbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel).With().Timestamp().Logger()
	}

	engine, err := buildEngine(client, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states := make([]familyState, *principals)
	fmt.Printf("logging in %d principals...\n", *principals)
	startSeed := time.Now()
	for i := range states {
		principal := fmt.Sprintf("user-%d", i)
		pair, err := engine.IssueForLogin(ctx, principal)
		if err != nil {
			fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
			os.Exit(1)
		}
		states[i] = familyState{principal: principal, refresh: pair.RefreshToken, access: pair.AccessToken}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validateStats := runValidatePhase(ctx, engine, states, *ops, *concurrency)
	rotateStats := runRotatePhase(ctx, engine, states, *ops, *concurrency)
	reuse := runReusePhase(ctx, engine, *races, *racers)

	fmt.Println("---- results ----")
	printStats("validate", validateStats)
	printStats("rotate", rotateStats)
	fmt.Printf("reuse: races=%d racers=%d single_winner=%d violations=%d\n",
		reuse.races, *racers, reuse.singleWinner, reuse.violations)

	snap := engine.MetricsSnapshot()
	fmt.Printf("metrics: rotated=%d reuse_detected=%d consume_races=%d families_revoked=%d\n",
		snap.Counters[goRotate.MetricRefreshSuccess],
		snap.Counters[goRotate.MetricRefreshReuseDetected],
		snap.Counters[goRotate.MetricRefreshConsumeRace],
		snap.Counters[goRotate.MetricFamilyRevoked],
	)

	if reuse.violations > 0 {
		os.Exit(1)
	}
}

func buildEngine(client redis.UniversalClient, logger zerolog.Logger) (*goRotate.Engine, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}

	cfg := goRotate.DefaultConfig()
	cfg.Token.SigningMethod = "hs256"
	cfg.Token.PrivateKey = secret
	cfg.Session.MaxPerPrincipal = 4
	cfg.RateLimit.Enabled = false
	cfg.Store.Backend = "redis"

	return goRotate.New().
		WithConfig(cfg).
		WithRedis(client).
		WithLogger(logger).
		WithPermissions("profile:read", "profile:write").
		WithRoles(goRotate.Role{Name: "member", Permissions: []string{"profile:read", "profile:write"}}).
		WithRoleSource(goRotate.RoleSourceFunc(func(context.Context, string) ([]string, error) {
			return []string{"member"}, nil
		})).
		Build()
}

func runValidatePhase(ctx context.Context, engine *goRotate.Engine, states []familyState, ops, concurrency int) phaseStats {
	return runPhase(ops, concurrency, 7919, func(r *mrand.Rand) bool {
		state := &states[r.Intn(len(states))]
		state.mu.Lock()
		token := state.access
		state.mu.Unlock()
		_, err := engine.ValidateAccess(ctx, token)
		return err == nil
	})
}

// runRotatePhase rotates random families one holder at a time, so every presented
// token is fresh and any rejection is a failure.
func runRotatePhase(ctx context.Context, engine *goRotate.Engine, states []familyState, ops, concurrency int) phaseStats {
	return runPhase(ops, concurrency, 6151, func(r *mrand.Rand) bool {
		state := &states[r.Intn(len(states))]
		state.mu.Lock()
		defer state.mu.Unlock()
		if state.dead {
			return false
		}
		out, err := engine.Rotate(ctx, state.refresh)
		if err != nil || !out.OK() {
			state.dead = true
			return false
		}
		state.refresh = out.Pair.RefreshToken
		state.access = out.Pair.AccessToken
		return true
	})
}

type reuseStats struct {
	races        int
	singleWinner int
	violations   int
}

// runReusePhase logs in a fresh principal per race and lets racers present the same
// refresh token at once. Exactly one must win and the family must end up closed.
func runReusePhase(ctx context.Context, engine *goRotate.Engine, races, racers int) reuseStats {
	var stats reuseStats
	for n := 0; n < races; n++ {
		principal := fmt.Sprintf("racer-%d", n)
		pair, err := engine.IssueForLogin(ctx, principal)
		if err != nil {
			stats.violations++
			continue
		}

		var (
			wg      sync.WaitGroup
			start   = make(chan struct{})
			winners int64
			fatal   int64
		)
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				out, err := engine.Rotate(ctx, pair.RefreshToken)
				switch {
				case err != nil:
					atomic.AddInt64(&fatal, 1)
				case out.OK():
					atomic.AddInt64(&winners, 1)
				}
			}()
		}
		close(start)
		wg.Wait()

		stats.races++
		live, err := engine.SessionCount(ctx, principal)
		if winners == 1 && fatal == 0 && err == nil && live == 0 {
			stats.singleWinner++
		} else {
			stats.violations++
		}
	}
	return stats
}

func runPhase(ops, concurrency int, seed int64, op func(r *mrand.Rand) bool) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				ok := op(r)
				d := time.Since(t0)
				if !ok {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
