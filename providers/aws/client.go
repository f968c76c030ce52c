package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
)

// The pricing API is only served from a handful of regions.
const pricingRegion = "us-east-1"

// Client bundles the AWS service clients a tuning run needs.
type Client struct {
	sagemakerClient *sagemaker.Client
	s3Client        *s3.Client
	pricingClient   *pricing.Client
	ec2Client       *ec2.Client
	region          string
}

// NewClient creates the AWS clients for the target region using the default
// credential chain.
func NewClient(ctx context.Context, region string) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return &Client{
		sagemakerClient: sagemaker.NewFromConfig(cfg),
		s3Client:        s3.NewFromConfig(cfg),
		pricingClient: pricing.NewFromConfig(cfg, func(o *pricing.Options) {
			o.Region = pricingRegion
		}),
		ec2Client: ec2.NewFromConfig(cfg),
		region:    region,
	}, nil
}

// Region returns the target region.
func (c *Client) Region() string {
	return c.region
}

// SageMaker returns the raw SageMaker client.
func (c *Client) SageMaker() *sagemaker.Client {
	return c.sagemakerClient
}

// S3 returns the raw S3 client.
func (c *Client) S3() *s3.Client {
	return c.s3Client
}
