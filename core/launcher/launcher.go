// Package launcher builds and submits one remote training job per
// (candidate, fold) pair.
package launcher

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"hpo-orchestrator/core/models"
)

// RemoteState is the remote service's coarse job status.
type RemoteState string

const (
	RemoteInProgress RemoteState = "in_progress"
	RemoteCompleted  RemoteState = "completed"
	RemoteFailed     RemoteState = "failed"
	RemoteStopping   RemoteState = "stopping"
	RemoteStopped    RemoteState = "stopped"
)

// JobRequest describes one remote training job submission.
type JobRequest struct {
	Name               string
	Image              string
	RoleARN            string
	InstanceType       string
	InstanceCount      int
	VolumeSizeGB       int
	HyperParameters    map[string]string
	TrainLocation      string
	ValidationLocation string
	OutputLocation     string
	CheckpointLocation string // per-job checkpoint prefix, empty disables checkpointing
	MaxRuntime         time.Duration
	Spot               bool
	MetricName         string
	MetricRegex        string
	Tags               map[string]string
}

// JobStatus is the polled view of a remote training job.
type JobStatus struct {
	State         RemoteState
	FailureReason string
	MetricValue   *float64
}

// TrainingService is the remote training control surface. Implementations
// must be safe for concurrent use; the orchestrator calls Describe from a
// worker pool.
type TrainingService interface {
	StartTrainingJob(ctx context.Context, req JobRequest) error
	DescribeTrainingJob(ctx context.Context, name string) (JobStatus, error)
	StopTrainingJob(ctx context.Context, name string) error
}

// Config carries the fixed parts of every submission.
type Config struct {
	BaseJobName        string
	Image              string
	RoleARN            string
	InstanceType       string
	InstanceCount      int
	VolumeSizeGB       int
	OutputLocation     string
	CheckpointLocation string // shared checkpoint prefix, extended per job
	MaxRuntime         time.Duration
	Spot               bool
	MetricName         string
	MetricRegex        string
	Tags               map[string]string
}

// Launcher submits training jobs through a TrainingService.
type Launcher struct {
	svc TrainingService
	cfg Config
}

// New creates a launcher for the given service and submission config.
func New(svc TrainingService, cfg Config) *Launcher {
	return &Launcher{svc: svc, cfg: cfg}
}

// Submit starts a remote training job for the pair and returns the remote
// name it was submitted under. A fresh name is generated per attempt so a
// resubmission never collides with an earlier run of the same pair.
func (l *Launcher) Submit(ctx context.Context, cand models.HyperparameterCandidate, fold models.FoldSplit, attempt int) (string, error) {
	name := l.jobName(cand.Index, fold.Index, attempt)
	req := JobRequest{
		Name:               name,
		Image:              l.cfg.Image,
		RoleARN:            l.cfg.RoleARN,
		InstanceType:       l.cfg.InstanceType,
		InstanceCount:      l.cfg.InstanceCount,
		VolumeSizeGB:       l.cfg.VolumeSizeGB,
		HyperParameters:    cand.StringMap(),
		TrainLocation:      fold.TrainLocation,
		ValidationLocation: fold.ValidationLocation,
		OutputLocation:     l.cfg.OutputLocation,
		MaxRuntime:         l.cfg.MaxRuntime,
		Spot:               l.cfg.Spot,
		MetricName:         l.cfg.MetricName,
		MetricRegex:        l.cfg.MetricRegex,
		Tags:               l.cfg.Tags,
	}
	if l.cfg.CheckpointLocation != "" {
		// Resubmissions of a pair share a prefix so training can resume
		// from the last checkpoint after a spot interruption or failure.
		req.CheckpointLocation = fmt.Sprintf("%s/c%d-f%d", strings.TrimSuffix(l.cfg.CheckpointLocation, "/"), cand.Index, fold.Index)
	}
	if err := l.svc.StartTrainingJob(ctx, req); err != nil {
		return name, fmt.Errorf("start training job %s: %w", name, err)
	}
	return name, nil
}

// The remote service accepts names of at most 63 characters drawn from
// letters, digits and hyphens.
const maxJobNameLen = 63

var invalidNameChars = regexp.MustCompile(`[^A-Za-z0-9-]+`)

func (l *Launcher) jobName(candidate, fold, attempt int) string {
	suffix := fmt.Sprintf("-c%d-f%d-a%d-%s", candidate, fold, attempt+1, uuid.NewString()[:8])
	base := sanitizeName(l.cfg.BaseJobName)
	if len(base)+len(suffix) > maxJobNameLen {
		base = base[:maxJobNameLen-len(suffix)]
		base = strings.TrimRight(base, "-")
	}
	return base + suffix
}

func sanitizeName(name string) string {
	name = invalidNameChars.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-")
	if name == "" {
		return "hpo"
	}
	return name
}
