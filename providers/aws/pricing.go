package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	pricingtypes "github.com/aws/aws-sdk-go-v2/service/pricing/types"
)

// OnDemandRate fetches the hourly on-demand USD rate for a SageMaker
// training instance type in the target region.
func (c *Client) OnDemandRate(ctx context.Context, instanceType string) (float64, error) {
	out, err := c.pricingClient.GetProducts(ctx, &pricing.GetProductsInput{
		ServiceCode: aws.String("AmazonSageMaker"),
		Filters: []pricingtypes.Filter{
			{Type: pricingtypes.FilterTypeTermMatch, Field: aws.String("instanceName"), Value: aws.String(instanceType)},
			{Type: pricingtypes.FilterTypeTermMatch, Field: aws.String("regionCode"), Value: aws.String(c.region)},
		},
		MaxResults: aws.Int32(20),
	})
	if err != nil {
		return 0, fmt.Errorf("get products for %s: %w", instanceType, err)
	}

	for _, doc := range out.PriceList {
		rate, err := onDemandRateFromDocument(doc)
		if err == nil && rate > 0 {
			return rate, nil
		}
	}
	return 0, fmt.Errorf("no on-demand price found for %s in %s", instanceType, c.region)
}

// onDemandRateFromDocument digs the hourly USD rate out of one price-list
// document: terms.OnDemand.<sku>.priceDimensions.<dim>.pricePerUnit.USD.
func onDemandRateFromDocument(doc string) (float64, error) {
	var product struct {
		Terms struct {
			OnDemand map[string]struct {
				PriceDimensions map[string]struct {
					Unit         string            `json:"unit"`
					PricePerUnit map[string]string `json:"pricePerUnit"`
				} `json:"priceDimensions"`
			} `json:"OnDemand"`
		} `json:"terms"`
	}
	if err := json.Unmarshal([]byte(doc), &product); err != nil {
		return 0, fmt.Errorf("parse price document: %w", err)
	}
	for _, offer := range product.Terms.OnDemand {
		for _, dim := range offer.PriceDimensions {
			if !strings.EqualFold(dim.Unit, "Hrs") {
				continue
			}
			raw, ok := dim.PricePerUnit["USD"]
			if !ok {
				continue
			}
			rate, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				continue
			}
			if rate > 0 {
				return rate, nil
			}
		}
	}
	return 0, fmt.Errorf("price document has no hourly USD rate")
}

// SpotRate approximates the managed-spot hourly rate with the EC2 spot
// market price of the equivalent instance type (the "ml." prefix stripped),
// averaged across availability zones.
func (c *Client) SpotRate(ctx context.Context, instanceType string) (float64, error) {
	ec2Type := strings.TrimPrefix(instanceType, "ml.")
	out, err := c.ec2Client.DescribeSpotPriceHistory(ctx, &ec2.DescribeSpotPriceHistoryInput{
		InstanceTypes:       []ec2types.InstanceType{ec2types.InstanceType(ec2Type)},
		ProductDescriptions: []string{"Linux/UNIX"},
		StartTime:           aws.Time(time.Now()),
		MaxResults:          aws.Int32(100),
	})
	if err != nil {
		return 0, fmt.Errorf("describe spot price history for %s: %w", ec2Type, err)
	}
	if len(out.SpotPriceHistory) == 0 {
		return 0, fmt.Errorf("no spot price history for %s", ec2Type)
	}

	sum, n := 0.0, 0
	for _, p := range out.SpotPriceHistory {
		price, err := strconv.ParseFloat(aws.ToString(p.SpotPrice), 64)
		if err != nil || price <= 0 {
			continue
		}
		sum += price
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("no usable spot prices for %s", ec2Type)
	}
	return sum / float64(n), nil
}
