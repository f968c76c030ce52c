package spec

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"hpo-orchestrator/core/models"
)

// TuningSpec represents the YAML tuning specification.
type TuningSpec struct {
	Tuning TuningSpecTuning `yaml:"tuning"`
}

// TuningSpecTuning represents the tuning section of the spec.
type TuningSpecTuning struct {
	Name            string                `yaml:"name"`
	Folds           int                   `yaml:"folds"`
	MaxJobs         int                   `yaml:"max_jobs"`
	MaxParallelJobs int                   `yaml:"max_parallel_jobs"`
	Sampler         string                `yaml:"sampler"` // spaced | random
	Seed            int64                 `yaml:"seed"`
	Parameters      []TuningSpecParameter `yaml:"parameters"`
	Training        TuningSpecTraining    `yaml:"training"`
	Data            TuningSpecData        `yaml:"data"`
}

// TuningSpecParameter represents one searched hyperparameter.
type TuningSpecParameter struct {
	Name    string  `yaml:"name"`
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
	Scale   string  `yaml:"scale"` // linear | log
	Integer bool    `yaml:"integer"`
}

// TuningSpecTraining represents the training job template.
type TuningSpecTraining struct {
	Image         string `yaml:"image"`
	InstanceType  string `yaml:"instance_type"`
	InstanceCount int    `yaml:"instance_count"`
	VolumeSizeGB  int    `yaml:"volume_size_gb"`
	MaxRuntime    string `yaml:"max_runtime"` // Go duration, e.g. "2h"
	Spot          bool   `yaml:"spot"`
	RoleARN       string `yaml:"role_arn"`
	MetricName    string `yaml:"metric_name"`
	MetricRegex   string `yaml:"metric_regex"`
}

// TuningSpecData represents data locations.
type TuningSpecData struct {
	Train  string `yaml:"train"`
	Test   string `yaml:"test"`
	Output string `yaml:"output"`
}

// ParseTuningSpec parses a YAML tuning specification and applies defaults.
func ParseTuningSpec(specYAML string) (*TuningSpec, error) {
	var spec TuningSpec
	if err := yaml.Unmarshal([]byte(specYAML), &spec); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Set defaults
	if spec.Tuning.Folds == 0 {
		spec.Tuning.Folds = 3
	}
	if spec.Tuning.MaxParallelJobs == 0 {
		spec.Tuning.MaxParallelJobs = 2
	}
	if spec.Tuning.Sampler == "" {
		spec.Tuning.Sampler = "spaced"
	}
	if spec.Tuning.Training.InstanceCount == 0 {
		spec.Tuning.Training.InstanceCount = 1
	}
	for i := range spec.Tuning.Parameters {
		if spec.Tuning.Parameters[i].Scale == "" {
			spec.Tuning.Parameters[i].Scale = string(models.ScalingLinear)
		}
	}

	if err := spec.validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

func (s *TuningSpec) validate() error {
	t := s.Tuning
	if t.Folds < 2 {
		return fmt.Errorf("folds must be at least 2, got %d", t.Folds)
	}
	if t.MaxJobs <= 0 {
		return fmt.Errorf("max_jobs must be positive, got %d", t.MaxJobs)
	}
	if t.MaxParallelJobs <= 0 {
		return fmt.Errorf("max_parallel_jobs must be positive, got %d", t.MaxParallelJobs)
	}
	if t.Sampler != "spaced" && t.Sampler != "random" {
		return fmt.Errorf("unknown sampler %q", t.Sampler)
	}
	if len(t.Parameters) == 0 {
		return fmt.Errorf("at least one parameter is required")
	}
	for _, p := range t.Parameters {
		if p.Scale != string(models.ScalingLinear) && p.Scale != string(models.ScalingLogarithmic) {
			return fmt.Errorf("parameter %q: unknown scale %q", p.Name, p.Scale)
		}
	}
	if t.Training.MaxRuntime != "" {
		if _, err := time.ParseDuration(t.Training.MaxRuntime); err != nil {
			return fmt.Errorf("invalid max_runtime: %w", err)
		}
	}
	return nil
}

// SearchSpace converts the parameter section into the search space model.
func (s *TuningSpec) SearchSpace() []models.Parameter {
	params := make([]models.Parameter, 0, len(s.Tuning.Parameters))
	for _, p := range s.Tuning.Parameters {
		params = append(params, models.Parameter{
			Name:    p.Name,
			Bounds:  models.Range[float64]{Min: p.Min, Max: p.Max},
			Scale:   models.ScalingPolicy(p.Scale),
			Integer: p.Integer,
		})
	}
	return params
}

// MaxRuntimeDuration returns the parsed training runtime limit, or zero
// when the spec leaves it unset.
func (s *TuningSpec) MaxRuntimeDuration() time.Duration {
	if s.Tuning.Training.MaxRuntime == "" {
		return 0
	}
	d, err := time.ParseDuration(s.Tuning.Training.MaxRuntime)
	if err != nil {
		return 0
	}
	return d
}
