package aws

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// MetricsPublisher writes count metrics to a CloudWatch namespace.
type MetricsPublisher struct {
	CloudWatch CloudWatchAPI
	Namespace  string
}

func NewMetricsPublisher(client CloudWatchAPI, namespace string) *MetricsPublisher {
	return &MetricsPublisher{
		CloudWatch: client,
		Namespace:  namespace,
	}
}

// PutCount publishes a single Count datum with the given dimensions.
func (p *MetricsPublisher) PutCount(ctx context.Context, metric string, value float64, dims map[string]string) error {
	keys := make([]string, 0, len(dims))
	for k := range dims {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	dimensions := make([]cwtypes.Dimension, 0, len(keys))
	for _, k := range keys {
		dimensions = append(dimensions, cwtypes.Dimension{
			Name:  awsString(k),
			Value: awsString(dims[k]),
		})
	}

	_, err := p.CloudWatch.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: &p.Namespace,
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: awsString(metric),
				Value:      &value,
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dimensions,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("put metric data %s: %w", metric, err)
	}
	return nil
}
