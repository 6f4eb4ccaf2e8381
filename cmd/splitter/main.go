// The splitter binary consumes dataset jobs from the queue and runs each one
// through the pipeline: fetch, split, dispatch, resolve, load, acknowledge.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Tanayk7/etl-lambdas/internal/blob"
	"github.com/Tanayk7/etl-lambdas/internal/config"
	"github.com/Tanayk7/etl-lambdas/internal/controller"
	"github.com/Tanayk7/etl-lambdas/internal/dispatch"
	"github.com/Tanayk7/etl-lambdas/internal/metrics"
	"github.com/Tanayk7/etl-lambdas/internal/metrics/datadog"
	"github.com/Tanayk7/etl-lambdas/internal/metrics/prompush"
	"github.com/Tanayk7/etl-lambdas/internal/queue"
	"github.com/Tanayk7/etl-lambdas/internal/storage"
)

func main() {
	var (
		cfgPath           string
		metricsBackendFlg string
		validate          bool
	)
	flag.StringVar(&cfgPath, "config", "configs/pipeline.json", "config JSON path")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend (pushgateway, datadog, none); overrides config")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	if metricsBackendFlg != "" {
		cfg.Metrics.Backend = metricsBackendFlg
	}

	issues := config.Validate(cfg, config.ComponentSplitter)
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasError(issues) {
		fatalf("configuration is invalid: %s", cfgPath)
	}
	if validate {
		log.Printf("configuration is valid: %s", cfgPath)
		return
	}

	shutdownMetrics := initMetrics(cfg)
	defer shutdownMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	blobs, err := blob.NewStore(blob.Config{
		Endpoint:  cfg.Blob.Endpoint,
		AccessKey: cfg.Blob.AccessKey,
		SecretKey: cfg.Blob.SecretKey,
		UseSSL:    cfg.Blob.UseSSL,
	})
	if err != nil {
		fatalf("blob store: %v", err)
	}

	repo, closeRepo, err := storage.NewRepository(ctx, storage.Config{
		DSN:          cfg.DB.DSN,
		TripsTable:   cfg.DB.TripsTable,
		VendorsTable: cfg.DB.VendorsTable,
	})
	if err != nil {
		fatalf("connect database: %v", err)
	}
	defer closeRepo()

	ctrl := &controller.Controller{
		Blobs: blobs,
		Client: dispatch.NewClient(dispatch.ClientConfig{
			Endpoint: cfg.Transform.Endpoint,
			Timeout:  time.Duration(cfg.Transform.TimeoutSeconds) * time.Second,
		}),
		Vendors: repo,
		Trips:   repo,
		Cfg: controller.Config{
			ChunkRows:    cfg.Chunking.MaxRows,
			BatchSize:    cfg.DB.BatchSize,
			Workers:      cfg.Transform.Workers,
			AckOnFailure: cfg.AckFailedJobs(),
		},
	}

	consumer, err := queue.NewConsumer(queue.Config{
		URI:      cfg.Queue.URI,
		Queue:    cfg.Queue.Name,
		Prefetch: cfg.Queue.Prefetch,
	})
	if err != nil {
		fatalf("connect queue: %v", err)
	}
	defer consumer.Close()

	jobs, err := consumer.Jobs(ctx)
	if err != nil {
		fatalf("consume: %v", err)
	}

	log.Printf("splitter: consuming queue=%s workers=%d chunk_rows=%d batch_size=%d ack_on_failure=%v",
		cfg.Queue.Name, cfg.Transform.Workers, cfg.Chunking.MaxRows, cfg.DB.BatchSize, cfg.AckFailedJobs())

	processJobs(ctx, jobs, func(ctx context.Context, job queue.Job) {
		res := ctrl.Run(ctx, job.Bucket, job.Key, &job)
		log.Printf("splitter: message=%s job=%s status=%s", job.MessageID, res.JobID, res.Status)
	})
	log.Printf("splitter: shutting down")
}

// processJobs runs one controller invocation per delivery, each in its own
// goroutine. Concurrency is bounded by the queue's prefetch window: the
// broker withholds further deliveries until outstanding ones are acked, so at
// most Prefetch jobs run at once. Returns after the jobs channel closes and
// every started job has finished.
func processJobs(ctx context.Context, jobs <-chan queue.Job, run func(context.Context, queue.Job)) {
	var wg sync.WaitGroup
	for job := range jobs {
		job := job
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx, job)
		}()
	}
	wg.Wait()
}

// initMetrics installs the configured metrics backend and returns its
// shutdown function; on any init failure the nop backend stays in place so
// the pipeline still runs.
func initMetrics(cfg config.Config) func() {
	nop := func() {}
	jobName := cfg.Job
	if jobName == "" {
		jobName = "trip_pipeline"
	}

	switch cfg.Metrics.Backend {
	case "pushgateway":
		b, err := prompush.NewBackend(jobName, cfg.Metrics.PushgatewayURL)
		if err != nil {
			log.Printf("metrics: init pushgateway backend: %v; metrics disabled", err)
			return nop
		}
		log.Printf("metrics: backend=pushgateway url=%s job=%s", cfg.Metrics.PushgatewayURL, jobName)
		metrics.SetBackend(b)
		return func() {
			if err := metrics.Flush(); err != nil {
				log.Printf("metrics: final flush: %v", err)
			}
		}

	case "datadog":
		b, err := datadog.NewBackend(datadog.Config{
			Addr:       cfg.Metrics.StatsdAddr,
			Namespace:  cfg.Metrics.Namespace,
			GlobalTags: []string{"service:" + jobName},
		})
		if err != nil {
			log.Printf("metrics: init datadog backend: %v; metrics disabled", err)
			return nop
		}
		log.Printf("metrics: backend=datadog addr=%s job=%s", cfg.Metrics.StatsdAddr, jobName)
		metrics.SetBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				log.Printf("metrics: close datadog client: %v", err)
			}
		}

	case "", "none":

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", cfg.Metrics.Backend)
	}
	return nop
}

func fatalf(format string, args ...any) {
	log.Printf(format, args...)
	os.Exit(1)
}
