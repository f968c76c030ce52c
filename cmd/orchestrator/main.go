package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"hpo-orchestrator/api/rest/routes"
	"hpo-orchestrator/config"
	"hpo-orchestrator/core/aggregator"
	"hpo-orchestrator/core/artifacts"
	"hpo-orchestrator/core/launcher"
	"hpo-orchestrator/core/models"
	"hpo-orchestrator/core/monitoring"
	"hpo-orchestrator/core/orchestrator"
	"hpo-orchestrator/core/repository"
	"hpo-orchestrator/core/search"
	"hpo-orchestrator/core/spec"
	"hpo-orchestrator/core/tracker"
	"hpo-orchestrator/providers/aws"
	"hpo-orchestrator/storage"
)

// Exit codes: 0 on success, 2 on configuration errors, 3 when no candidate
// completed every fold, 1 on any other failure.
const (
	exitOK       = 0
	exitFailure  = 1
	exitConfig   = 2
	exitNoViable = 3
)

func main() {
	os.Exit(run())
}

// runParams is the merged flag and spec-file configuration of one run.
type runParams struct {
	taskName        string
	metricName      string
	metricRegex     string
	baseJobName     string
	image           string
	trainLocation   string
	testLocation    string
	outputLocation  string
	region          string
	roleARN         string
	instanceType    string
	instanceCount   int
	volumeSizeGB    int
	folds           int
	maxJobs         int
	maxParallelJobs int
	retryLimit      int
	retryBackoff    time.Duration
	pollInterval    time.Duration
	requestTimeout  time.Duration
	maxRuntime      time.Duration
	sampler         search.Sampler
	seed            int64
	spot            bool
	maxBudget       float64
	statusAddr      string
	historyDSN      string
	params          []models.Parameter
}

func run() int {
	cfg := config.Load()

	var (
		k               = flag.Int("k", 3, "number of cross-validation folds")
		image           = flag.String("image", "", "training image URI (required)")
		trainLocation   = flag.String("train-location", "", "object storage prefix holding the fold layout (required)")
		testLocation    = flag.String("test-location", "", "held-out test set location, attached to jobs as a tag")
		outputLocation  = flag.String("output-location", "", "artifact destination, s3:// URI or local path (required)")
		instanceType    = flag.String("instance-type", "ml.m5.large", "training instance type")
		instanceCount   = flag.Int("instance-count", 1, "instances per training job")
		maxJobs         = flag.Int("max-jobs", 6, "total submission budget, resubmissions included")
		maxParallelJobs = flag.Int("max-parallel-jobs", 2, "training jobs allowed in flight at once")
		cMin            = flag.Float64("c-min", 0.1, "lower bound of the c range")
		cMax            = flag.Float64("c-max", 1.0, "upper bound of the c range")
		gammaMin        = flag.Float64("gamma-min", 0.0001, "lower bound of the gamma range")
		gammaMax        = flag.Float64("gamma-max", 0.001, "upper bound of the gamma range")
		scalingType     = flag.String("scaling-type", "linear", "candidate spacing across ranges (linear|log)")
		specFile        = flag.String("spec", "", "YAML tuning spec; overrides the c/gamma convenience flags")
		region          = flag.String("region", cfg.AWSRegion, "AWS region")
		roleARN         = flag.String("role-arn", cfg.RoleARN, "IAM role assumed by training jobs (required)")
		taskName        = flag.String("task-name", "svm", "task label used in the evaluation report")
		metricName      = flag.String("metric-name", "accuracy", "objective metric maximized across folds")
		metricRegex     = flag.String("metric-regex", `accuracy=([0-9.]+)`, "regex extracting the metric from training logs")
		baseJobName     = flag.String("base-job-name", "hpo", "prefix for remote training job names")
		pollInterval    = flag.Duration("poll-interval", cfg.PollInterval, "delay between remote status polls")
		maxRuntime      = flag.Duration("max-runtime", 24*time.Hour, "per-job wall clock limit")
		retryLimit      = flag.Int("retry-limit", 2, "resubmissions per pair after remote failures")
		retryBackoff    = flag.Duration("retry-backoff", 30*time.Second, "base backoff before a resubmission")
		sampler         = flag.String("sampler", "spaced", "candidate sampler (spaced|random)")
		seed            = flag.Int64("seed", 0, "seed for the random sampler")
		spot            = flag.Bool("spot", false, "run training on managed spot capacity")
		maxBudget       = flag.Float64("max-budget", 0, "refuse to start when the projected cost exceeds this (USD, 0 disables)")
		volumeSize      = flag.Int("volume-size", 30, "training volume size in GB")
		statusAddr      = flag.String("status-addr", cfg.StatusAddr, "address for the status API, empty disables it")
		historyDSN      = flag.String("history-dsn", cfg.DatabaseURL, "PostgreSQL DSN for run history, empty disables it")
	)
	flag.Parse()

	p := runParams{
		taskName:        *taskName,
		metricName:      *metricName,
		metricRegex:     *metricRegex,
		baseJobName:     *baseJobName,
		image:           *image,
		trainLocation:   *trainLocation,
		testLocation:    *testLocation,
		outputLocation:  *outputLocation,
		region:          *region,
		roleARN:         *roleARN,
		instanceType:    *instanceType,
		instanceCount:   *instanceCount,
		volumeSizeGB:    *volumeSize,
		folds:           *k,
		maxJobs:         *maxJobs,
		maxParallelJobs: *maxParallelJobs,
		retryLimit:      *retryLimit,
		retryBackoff:    *retryBackoff,
		pollInterval:    *pollInterval,
		requestTimeout:  cfg.RequestTimeout,
		maxRuntime:      *maxRuntime,
		sampler:         search.Sampler(*sampler),
		seed:            *seed,
		spot:            *spot,
		maxBudget:       *maxBudget,
		statusAddr:      *statusAddr,
		historyDSN:      *historyDSN,
		params: []models.Parameter{
			{Name: "c", Bounds: models.Range[float64]{Min: *cMin, Max: *cMax}, Scale: models.ScalingPolicy(*scalingType)},
			{Name: "gamma", Bounds: models.Range[float64]{Min: *gammaMin, Max: *gammaMax}, Scale: models.ScalingPolicy(*scalingType)},
		},
	}

	if *specFile != "" {
		if err := applySpecFile(&p, *specFile); err != nil {
			log.Printf("Invalid tuning spec: %v", err)
			return exitConfig
		}
	}

	if err := validateParams(&p); err != nil {
		log.Printf("Invalid configuration: %v", err)
		return exitConfig
	}

	n, err := search.CandidateCount(p.maxJobs, p.folds)
	if err != nil {
		log.Printf("Invalid configuration: %v", err)
		return exitConfig
	}
	candidates, err := search.Generate(p.params, n, p.sampler, p.seed)
	if err != nil {
		log.Printf("Invalid configuration: %v", err)
		return exitConfig
	}
	folds := models.BuildFoldSplits(p.trainLocation, p.folds)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		log.Printf("Received %s; no further jobs will be submitted", sig)
		cancel()
	}()

	awsClient, err := aws.NewClient(ctx, p.region)
	if err != nil {
		log.Printf("Failed to initialize AWS client: %v", err)
		return exitFailure
	}

	// Cost preflight
	estimator := monitoring.NewEstimator(awsClient)
	estimate := estimator.Estimate(ctx, p.instanceType, p.instanceCount, p.maxJobs, p.maxRuntime)
	logEstimate(estimate, p.spot)
	if p.maxBudget > 0 {
		if !estimate.Known() {
			log.Printf("Budget guard of $%.2f requested but no price is known for %s; refusing to start", p.maxBudget, p.instanceType)
			return exitConfig
		}
		projected := estimate.OnDemandTotal
		if p.spot && estimate.SpotTotal > 0 {
			projected = estimate.SpotTotal
		}
		if projected > p.maxBudget {
			log.Printf("Projected cost $%.2f exceeds the $%.2f budget; refusing to start", projected, p.maxBudget)
			return exitConfig
		}
	}

	store, err := buildStore(awsClient, p.outputLocation)
	if err != nil {
		log.Printf("Invalid output location: %v", err)
		return exitConfig
	}
	writer := artifacts.NewWriter(store, p.taskName)

	runID := uuid.NewString()
	trainingClient := aws.NewTrainingClient(awsClient.SageMaker(), p.metricName)
	tags := map[string]string{"hpo-run-id": runID}
	if p.testLocation != "" {
		tags["test-location"] = p.testLocation
	}
	launcherCfg := launcher.Config{
		BaseJobName:    p.baseJobName,
		Image:          p.image,
		RoleARN:        p.roleARN,
		InstanceType:   p.instanceType,
		InstanceCount:  p.instanceCount,
		VolumeSizeGB:   p.volumeSizeGB,
		OutputLocation: p.outputLocation,
		MaxRuntime:     p.maxRuntime,
		Spot:           p.spot,
		MetricName:     p.metricName,
		MetricRegex:    p.metricRegex,
		Tags:           tags,
	}
	if p.spot && strings.HasPrefix(p.outputLocation, "s3://") {
		launcherCfg.CheckpointLocation = strings.TrimSuffix(p.outputLocation, "/") + "/checkpoints"
	}
	launch := launcher.New(trainingClient, launcherCfg)

	runRecord := models.RunRecord{
		ID:              runID,
		TaskName:        p.taskName,
		MetricName:      p.metricName,
		Folds:           p.folds,
		Candidates:      len(candidates),
		MaxJobs:         p.maxJobs,
		MaxParallelJobs: p.maxParallelJobs,
		InstanceType:    p.instanceType,
		InstanceCount:   p.instanceCount,
		StartedAt:       time.Now(),
	}

	var observers []tracker.Observer
	sink := openHistorySink(p.historyDSN, &runRecord)
	if sink != nil {
		observers = append(observers, sink)
	}

	o := orchestrator.New(orchestrator.Config{
		RunID:           runID,
		TaskName:        p.taskName,
		MetricName:      p.metricName,
		MaxJobs:         p.maxJobs,
		MaxParallelJobs: p.maxParallelJobs,
		RetryLimit:      p.retryLimit,
		RetryBackoff:    p.retryBackoff,
		PollInterval:    p.pollInterval,
		MaxRuntime:      p.maxRuntime,
		RequestTimeout:  p.requestTimeout,
	}, trainingClient, launch, candidates, folds, writer, observers...)

	server := startStatusServer(o, estimate, p, runRecord)
	if server != nil {
		defer func() {
			if err := server.Shutdown(context.Background()); err != nil {
				log.Printf("Failed to shut down status server: %v", err)
			}
		}()
	}

	result, err := o.Run(ctx)
	if err != nil {
		finishHistory(sink, &runRecord, o, err)
		log.Printf("Tuning failed: %v", err)
		var noViable *aggregator.NoViableCandidateError
		if errors.As(err, &noViable) {
			return exitNoViable
		}
		return exitFailure
	}

	runRecord.Outcome = models.RunOutcomeCompleted
	runRecord.BestJobName = &result.Info.BestJobID
	runRecord.BestValue = &result.Report.Value
	runRecord.SubmittedTotal = result.SubmittedTotal
	if sink != nil {
		sink.RunFinished(&runRecord)
	}

	log.Printf("Best candidate: %s", result.Info.BestCandidate.String())
	log.Printf("Mean %s across %d folds: %.6f", p.metricName, p.folds, result.Report.Value)
	log.Printf("Artifacts published to %s", p.outputLocation)
	return exitOK
}

// applySpecFile overlays a YAML tuning spec onto the flag values. Values
// the spec sets win; everything else keeps its flag or default.
func applySpecFile(p *runParams, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	parsed, err := spec.ParseTuningSpec(string(raw))
	if err != nil {
		return err
	}

	t := parsed.Tuning
	if t.Name != "" {
		p.taskName = t.Name
	}
	p.folds = t.Folds
	p.maxJobs = t.MaxJobs
	p.maxParallelJobs = t.MaxParallelJobs
	p.sampler = search.Sampler(t.Sampler)
	p.seed = t.Seed
	p.params = parsed.SearchSpace()

	if t.Training.Image != "" {
		p.image = t.Training.Image
	}
	if t.Training.InstanceType != "" {
		p.instanceType = t.Training.InstanceType
	}
	p.instanceCount = t.Training.InstanceCount
	if t.Training.VolumeSizeGB > 0 {
		p.volumeSizeGB = t.Training.VolumeSizeGB
	}
	if d := parsed.MaxRuntimeDuration(); d > 0 {
		p.maxRuntime = d
	}
	if t.Training.Spot {
		p.spot = true
	}
	if t.Training.RoleARN != "" {
		p.roleARN = t.Training.RoleARN
	}
	if t.Training.MetricName != "" {
		p.metricName = t.Training.MetricName
	}
	if t.Training.MetricRegex != "" {
		p.metricRegex = t.Training.MetricRegex
	}
	if t.Data.Train != "" {
		p.trainLocation = t.Data.Train
	}
	if t.Data.Test != "" {
		p.testLocation = t.Data.Test
	}
	if t.Data.Output != "" {
		p.outputLocation = t.Data.Output
	}
	return nil
}

func validateParams(p *runParams) error {
	switch {
	case p.folds < 2:
		return errors.New("k must be at least 2")
	case p.image == "":
		return errors.New("-image is required")
	case p.trainLocation == "":
		return errors.New("-train-location is required")
	case p.outputLocation == "":
		return errors.New("-output-location is required")
	case p.roleARN == "":
		return errors.New("-role-arn is required (or set SAGEMAKER_ROLE_ARN)")
	case p.maxParallelJobs < 1:
		return errors.New("-max-parallel-jobs must be at least 1")
	case p.instanceCount < 1:
		return errors.New("-instance-count must be at least 1")
	case p.retryLimit < 0:
		return errors.New("-retry-limit must not be negative")
	case p.maxRuntime <= 0:
		return errors.New("-max-runtime must be positive")
	case p.sampler != search.SamplerSpaced && p.sampler != search.SamplerRandom:
		return errors.New("-sampler must be spaced or random")
	}
	return nil
}

func buildStore(awsClient *aws.Client, outputLocation string) (storage.ObjectStore, error) {
	if strings.HasPrefix(outputLocation, "s3://") {
		bucket, prefix, err := aws.ParseS3URI(outputLocation)
		if err != nil {
			return nil, err
		}
		return aws.NewS3Store(awsClient.S3(), bucket, prefix), nil
	}
	return storage.NewLocalStore(outputLocation), nil
}

func openHistorySink(dsn string, run *models.RunRecord) *repository.HistorySink {
	if dsn == "" {
		return nil
	}
	db, err := repository.NewDB(dsn)
	if err != nil {
		log.Printf("Failed to connect history database: %v; continuing without history", err)
		return nil
	}
	if err := db.EnsureSchema(); err != nil {
		log.Printf("Failed to prepare history schema: %v; continuing without history", err)
		db.Close()
		return nil
	}
	sink, err := repository.NewHistorySink(db, run)
	if err != nil {
		log.Printf("Failed to create history run: %v; continuing without history", err)
		db.Close()
		return nil
	}
	log.Println("Run history enabled")
	return sink
}

func startStatusServer(o *orchestrator.Orchestrator, estimate monitoring.CostEstimate, p runParams, run models.RunRecord) *http.Server {
	if p.statusAddr == "" {
		return nil
	}

	var meter *monitoring.CostMeter
	if estimate.Known() {
		rate := estimate.RatePerHour
		if p.spot && estimate.SpotRatePerHour > 0 {
			rate = estimate.SpotRatePerHour
		}
		meter = monitoring.NewCostMeter(rate, p.instanceCount)
	}
	exporter := monitoring.NewMetricsExporter(meter, run.StartedAt)

	r := mux.NewRouter()
	routes.SetupRoutes(r, o.Tracker(), meter, exporter, run)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	server := &http.Server{Addr: p.statusAddr, Handler: r}
	go func() {
		log.Printf("Status API listening on %s", p.statusAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Status server failed: %v", err)
		}
	}()
	return server
}

func logEstimate(estimate monitoring.CostEstimate, spot bool) {
	if !estimate.Known() {
		log.Printf("No price found for %s; cost reporting disabled", estimate.InstanceType)
		return
	}
	log.Printf("Price for %s: $%.4f/hour on demand (%s)", estimate.InstanceType, estimate.RatePerHour, estimate.PriceSource)
	log.Printf("Worst-case cost for %d jobs x %.1fh: $%.2f on demand", estimate.MaxJobs, estimate.MaxHoursPerJob, estimate.OnDemandTotal)
	if spot && estimate.SpotTotal > 0 {
		log.Printf("Spot projection including interruption overhead: $%.2f", estimate.SpotTotal)
	}
}

func finishHistory(sink *repository.HistorySink, run *models.RunRecord, o *orchestrator.Orchestrator, runErr error) {
	if sink == nil {
		return
	}
	run.Outcome = models.RunOutcomeFailed
	if errors.Is(runErr, context.Canceled) {
		run.Outcome = models.RunOutcomeInterrupted
	}
	run.SubmittedTotal = o.Tracker().SubmittedTotal()
	sink.RunFinished(run)
}
