package aws

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker/types"

	"hpo-orchestrator/core/launcher"
)

// TrainingClient drives SageMaker training jobs. It implements
// launcher.TrainingService.
type TrainingClient struct {
	sm         *sagemaker.Client
	metricName string
}

// NewTrainingClient creates a training client reporting the given final
// metric from describe calls.
func NewTrainingClient(sm *sagemaker.Client, metricName string) *TrainingClient {
	return &TrainingClient{sm: sm, metricName: metricName}
}

// StartTrainingJob submits a training job built from the request.
func (c *TrainingClient) StartTrainingJob(ctx context.Context, req launcher.JobRequest) error {
	input := &sagemaker.CreateTrainingJobInput{
		TrainingJobName: aws.String(req.Name),
		RoleArn:         aws.String(req.RoleARN),
		AlgorithmSpecification: &types.AlgorithmSpecification{
			TrainingImage:     aws.String(req.Image),
			TrainingInputMode: types.TrainingInputModeFile,
		},
		HyperParameters: req.HyperParameters,
		InputDataConfig: []types.Channel{
			dataChannel("train", req.TrainLocation),
			dataChannel("validation", req.ValidationLocation),
		},
		OutputDataConfig: &types.OutputDataConfig{
			S3OutputPath: aws.String(req.OutputLocation),
		},
		ResourceConfig: &types.ResourceConfig{
			InstanceType:   types.TrainingInstanceType(req.InstanceType),
			InstanceCount:  aws.Int32(int32(req.InstanceCount)),
			VolumeSizeInGB: aws.Int32(int32(req.VolumeSizeGB)),
		},
		StoppingCondition: &types.StoppingCondition{
			MaxRuntimeInSeconds: aws.Int32(int32(req.MaxRuntime.Seconds())),
		},
	}
	if req.MetricRegex != "" {
		input.AlgorithmSpecification.MetricDefinitions = []types.MetricDefinition{
			{Name: aws.String(req.MetricName), Regex: aws.String(req.MetricRegex)},
		}
	}
	if req.Spot {
		input.EnableManagedSpotTraining = aws.Bool(true)
		input.StoppingCondition.MaxWaitTimeInSeconds = input.StoppingCondition.MaxRuntimeInSeconds
	}
	if req.CheckpointLocation != "" {
		input.CheckpointConfig = &types.CheckpointConfig{
			S3Uri: aws.String(req.CheckpointLocation),
		}
	}
	if len(req.Tags) > 0 {
		keys := make([]string, 0, len(req.Tags))
		for k := range req.Tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			input.Tags = append(input.Tags, types.Tag{Key: aws.String(k), Value: aws.String(req.Tags[k])})
		}
	}

	if _, err := c.sm.CreateTrainingJob(ctx, input); err != nil {
		return fmt.Errorf("create training job: %w", err)
	}
	return nil
}

// DescribeTrainingJob polls the remote job status and, for completed jobs,
// extracts the configured final metric.
func (c *TrainingClient) DescribeTrainingJob(ctx context.Context, name string) (launcher.JobStatus, error) {
	out, err := c.sm.DescribeTrainingJob(ctx, &sagemaker.DescribeTrainingJobInput{
		TrainingJobName: aws.String(name),
	})
	if err != nil {
		return launcher.JobStatus{}, fmt.Errorf("describe training job %s: %w", name, err)
	}

	status := launcher.JobStatus{
		State:         remoteState(out.TrainingJobStatus),
		FailureReason: aws.ToString(out.FailureReason),
	}
	for _, m := range out.FinalMetricDataList {
		if aws.ToString(m.MetricName) == c.metricName {
			v := float64(m.Value)
			status.MetricValue = &v
			break
		}
	}
	return status, nil
}

// StopTrainingJob requests a remote stop; the job reports Stopped on a later
// describe.
func (c *TrainingClient) StopTrainingJob(ctx context.Context, name string) error {
	if _, err := c.sm.StopTrainingJob(ctx, &sagemaker.StopTrainingJobInput{
		TrainingJobName: aws.String(name),
	}); err != nil {
		return fmt.Errorf("stop training job %s: %w", name, err)
	}
	return nil
}

func dataChannel(name, uri string) types.Channel {
	return types.Channel{
		ChannelName: aws.String(name),
		DataSource: &types.DataSource{
			S3DataSource: &types.S3DataSource{
				S3DataType:             types.S3DataTypeS3Prefix,
				S3Uri:                  aws.String(uri),
				S3DataDistributionType: types.S3DataDistributionFullyReplicated,
			},
		},
	}
}

func remoteState(s types.TrainingJobStatus) launcher.RemoteState {
	switch s {
	case types.TrainingJobStatusCompleted:
		return launcher.RemoteCompleted
	case types.TrainingJobStatusFailed:
		return launcher.RemoteFailed
	case types.TrainingJobStatusStopping:
		return launcher.RemoteStopping
	case types.TrainingJobStatusStopped:
		return launcher.RemoteStopped
	default:
		return launcher.RemoteInProgress
	}
}
