// Command goguard-loadtest measures the rate limiter and the permission
// check under concurrency against Redis (or miniredis when none is given).
// Engine counters are read back through the OpenTelemetry exporter.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/backend/memory"
	otelexport "github.com/MrEthical07/goGuard/metrics/export/otel"
	"github.com/MrEthical07/goGuard/permission"
)

var resources = []string{
	permission.ResourceProfile,
	permission.ResourceOutlets,
	permission.ResourceQRCodes,
	permission.ResourceReviews,
	permission.ResourceCampaigns,
}

type options struct {
	identifiers int
	workers     int
	ops         int
	maxAttempts int
	redisAddr   string
}

func main() {
	var o options
	flag.IntVar(&o.identifiers, "identifiers", 10000, "distinct rate limit identifiers")
	flag.IntVar(&o.workers, "concurrency", 256, "concurrent workers per phase")
	flag.IntVar(&o.ops, "ops", 200000, "calls per phase")
	flag.IntVar(&o.maxAttempts, "max-attempts", 5, "rate limit budget per identifier")
	flag.StringVar(&o.redisAddr, "redis-addr", os.Getenv("REDIS_ADDR"), "redis address; miniredis when empty")
	flag.Parse()

	if o.identifiers <= 0 || o.workers <= 0 || o.ops <= 0 || o.maxAttempts <= 0 {
		fmt.Fprintln(os.Stderr, "identifiers, concurrency, ops and max-attempts must be > 0")
		os.Exit(2)
	}
	if err := run(context.Background(), o); err != nil {
		fmt.Fprintln(os.Stderr, "loadtest:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options) error {
	client, closeRedis, err := openRedis(o.redisAddr)
	if err != nil {
		return err
	}
	defer closeRedis()

	cfg := goGuard.DefaultConfig()
	cfg.LoginPatterns.Enabled = false
	cfg.Metrics.EnableLatencyHistograms = true
	engine, err := goGuard.New().
		WithConfig(cfg).
		WithRedis(client).
		WithLogger(slog.New(slog.DiscardHandler)).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(ctx)
	exporter, err := otelexport.NewExporter(provider.Meter("goguard-loadtest"), engine,
		otelexport.WithAttributes(attribute.String("run", time.Now().UTC().Format(time.RFC3339))))
	if err != nil {
		return fmt.Errorf("metrics exporter: %w", err)
	}
	defer exporter.Close()

	sess, err := engine.Login(ctx, memory.MockMerchantEmail, memory.MockPassword)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	var limited atomic.Int64
	rl := phase(o, func(r *rand.Rand) error {
		n := r.IntN(o.identifiers)
		res, err := engine.RateLimit(ctx, fmt.Sprintf("10.0.%d.%d", n/256, n%256), "loadtest", o.maxAttempts, time.Minute)
		if err == nil && res.Limited {
			limited.Add(1)
		}
		return err
	})
	perm := phase(o, func(r *rand.Rand) error {
		_, err := engine.CheckPermission(ctx, sess.AccessToken, resources[r.IntN(len(resources))], "read")
		return err
	})

	fmt.Println("---- results ----")
	fmt.Printf("rate-limit        %s limited=%d\n", rl, limited.Load())
	fmt.Printf("check-permission  %s\n", perm)
	return printMetrics(ctx, reader)
}

func openRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Println("redis:", addr)
		return client, func() { _ = client.Close() }, nil
	}
	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Println("redis: miniredis", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

// report summarizes one phase.
type report struct {
	elapsed       time.Duration
	calls, failed int
	p50, p95, p99 time.Duration
}

func (r report) String() string {
	rate := 0.0
	if r.elapsed > 0 {
		rate = float64(r.calls) / r.elapsed.Seconds()
	}
	return fmt.Sprintf("calls=%d failed=%d elapsed=%s rate=%.0f/s p50=%s p95=%s p99=%s",
		r.calls, r.failed, r.elapsed.Round(time.Millisecond), rate,
		r.p50.Round(time.Microsecond), r.p95.Round(time.Microsecond), r.p99.Round(time.Microsecond))
}

// phase feeds o.ops jobs to o.workers goroutines. Each worker keeps its
// own samples so the hot loop takes no lock.
func phase(o options, call func(r *rand.Rand) error) report {
	jobs := make(chan struct{}, o.workers)
	samples := make([][]time.Duration, o.workers)
	failed := make([]int, o.workers)

	var wg sync.WaitGroup
	begin := time.Now()
	for w := range o.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := rand.New(rand.NewPCG(uint64(begin.UnixNano()), uint64(w)))
			for range jobs {
				t := time.Now()
				if err := call(r); err != nil {
					failed[w]++
				}
				samples[w] = append(samples[w], time.Since(t))
			}
		}()
	}
	for range o.ops {
		jobs <- struct{}{}
	}
	close(jobs)
	wg.Wait()

	rep := report{elapsed: time.Since(begin)}
	all := slices.Concat(samples...)
	slices.Sort(all)
	rep.calls = len(all)
	for _, f := range failed {
		rep.failed += f
	}
	if n := len(all); n > 0 {
		at := func(q int) time.Duration { return all[(n-1)*q/100] }
		rep.p50, rep.p95, rep.p99 = at(50), at(95), at(99)
	}
	return rep
}

// printMetrics dumps the non-zero engine series as the OpenTelemetry
// reader sees them.
func printMetrics(ctx context.Context, reader *sdkmetric.ManualReader) error {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return errors.Join(errors.New("collect metrics"), err)
	}
	var lines []string
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			var points []metricdata.DataPoint[int64]
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				points = data.DataPoints
			case metricdata.Gauge[int64]:
				points = data.DataPoints
			}
			for _, dp := range points {
				if dp.Value == 0 {
					continue
				}
				name := m.Name
				if le, ok := dp.Attributes.Value("le"); ok {
					name += "{le=" + le.Emit() + "}"
				}
				lines = append(lines, fmt.Sprintf("%s %d", name, dp.Value))
			}
		}
	}
	slices.Sort(lines)
	fmt.Println("---- engine metrics ----")
	fmt.Println(strings.Join(lines, "\n"))
	return nil
}
