// Command callkit probes the endpoints of a YAML config through a decorated client, with retries
// and call metrics, and optionally exposes the metrics to Prometheus.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jkbrsn/callkit"
	"github.com/jkbrsn/callkit/pkg/config"
	"github.com/jkbrsn/callkit/pkg/promrecorder"
	"github.com/jkbrsn/callkit/pkg/statsdrecorder"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "callkit.yaml", "path to the YAML config")
	async := flag.Bool("async", false, "enqueue calls instead of executing them")
	rounds := flag.Int("rounds", 1, "number of probe rounds, 0 runs until interrupted")
	interval := flag.Duration("interval", 5*time.Second, "pause between rounds")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).Level(level)

	if err := run(*configPath, *async, *rounds, *interval); err != nil {
		log.Fatal().Err(err).Msg("callkit failed")
	}
}

func run(configPath string, async bool, rounds int, interval time.Duration) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recorders, cleanup, err := buildRecorders(ctx, cfg)
	defer cleanup()
	if err != nil {
		return err
	}

	opts := []callkit.ClientOption{callkit.WithTimeouts(cfg.HTTPTimeouts())}
	if policy := cfg.Policy(); policy != nil {
		opts = append(opts, callkit.WithRetry(policy, cfg.Eligibility()))
	}
	if len(recorders) > 0 {
		opts = append(opts, callkit.WithMetrics(recorders))
	}
	if cfg.Metrics.PerAttempt {
		opts = append(opts, callkit.WithPerAttemptMetrics())
	}
	if cfg.Dispatcher.Workers > 0 {
		pool := callkit.NewWorkerPool(cfg.Dispatcher.Workers, cfg.Dispatcher.Queue)
		pool.Start()
		defer pool.Stop()
		opts = append(opts, callkit.WithDispatcher(pool))
	}

	client, err := callkit.NewClient(cfg.BaseURL, opts...)
	if err != nil {
		return err
	}

	for round := 1; rounds == 0 || round <= rounds; round++ {
		if err := probe(ctx, client, cfg.Endpoints, async); err != nil {
			return err
		}
		if rounds != 0 && round == rounds {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
	return nil
}

// buildRecorders creates the configured metric backends. The returned cleanup stops them.
func buildRecorders(ctx context.Context, cfg *config.Config) (callkit.MultiRecorder, func(), error) {
	var recorders callkit.MultiRecorder
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Metrics.Log {
		recorders = append(recorders, callkit.LogRecorder{Key: cfg.Metrics.Key})
	}

	if addr := cfg.Metrics.StatsD.Addr; addr != "" {
		rec, err := statsdrecorder.New(addr, cfg.Metrics.Key)
		if err != nil {
			return nil, cleanup, err
		}
		recorders = append(recorders, rec)
		closers = append(closers, func() {
			if err := rec.Close(); err != nil {
				log.Warn().Err(err).Msg("closing statsd client")
			}
		})
	}

	if listen := cfg.Metrics.Prometheus.Listen; listen != "" {
		var promOpts []promrecorder.Option
		if cfg.Metrics.Key != "" {
			promOpts = append(promOpts, promrecorder.WithName(cfg.Metrics.Key))
		}
		rec, err := promrecorder.New(prometheus.DefaultRegisterer, promOpts...)
		if err != nil {
			return nil, cleanup, err
		}
		recorders = append(recorders, rec)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info().Str("addr", listen).Msg("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
		closers = append(closers, func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	return recorders, cleanup, nil
}

// probe calls every endpoint once, concurrently, and logs the outcomes.
func probe(ctx context.Context, client *callkit.Client, endpoints []config.EndpointConfig, async bool) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, ep := range endpoints {
		g.Go(func() error {
			call, err := client.NewCall(gctx, ep.Endpoint(), ep.CallOptions()...)
			if err != nil {
				return err
			}
			start := time.Now()
			if async {
				resp, err := enqueue(gctx, call)
				report(ep.Name, resp, err, time.Since(start))
				return nil
			}
			resp, err := call.Execute()
			report(ep.Name, resp, err, time.Since(start))
			return nil
		})
	}
	return g.Wait()
}

// enqueue runs call asynchronously and waits for its callback.
func enqueue(ctx context.Context, call callkit.Call) (*callkit.Response, error) {
	type outcome struct {
		resp *callkit.Response
		err  error
	}
	done := make(chan outcome, 1)
	call.Enqueue(callkit.CallbackFuncs{
		Response: func(_ callkit.Call, resp *callkit.Response) { done <- outcome{resp: resp} },
		Failure:  func(_ callkit.Call, err error) { done <- outcome{err: err} },
	})

	select {
	case o := <-done:
		return o.resp, o.err
	case <-ctx.Done():
		call.Cancel()
		o := <-done
		return o.resp, o.err
	}
}

func report(name string, resp *callkit.Response, err error, elapsed time.Duration) {
	if err != nil {
		log.Error().Err(err).Str("endpoint", name).Str("kind", callkit.ErrorKind(err)).
			Dur("elapsed", elapsed).Msg("call failed")
		return
	}
	defer func() { _ = resp.Close() }()

	data, readErr := resp.Data()
	times := resp.Times()
	log.Info().Str("endpoint", name).Int("status", resp.StatusCode()).
		Int("bytes", len(data)).AnErr("read_err", readErr).
		Dur("latency", times.Latency).Dur("elapsed", elapsed).
		Msg("call completed")
}
