package observability

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"

	pkgerrors "github.com/MiguelSchuhAlles/preanesth-app/pkg/errors"
)

// Recorder receives operation outcomes.
type Recorder interface {
	RecordOperation(ctx context.Context, operation string, duration time.Duration, err error)
	RecordAuditFailure(ctx context.Context, operation string)
}

// MetricsAPI is the part of the CloudWatch client Metrics uses.
type MetricsAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Metrics publishes operation metrics to CloudWatch
type Metrics struct {
	namespace string
	client    MetricsAPI
	logger    *zap.Logger
	now       func() time.Time
}

// NewMetrics creates a new metrics instance
func NewMetrics(namespace string, client MetricsAPI, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Metrics{
		namespace: namespace,
		client:    client,
		logger:    logger,
		now:       time.Now,
	}
}

// RecordOperation records the latency and outcome of a record store operation.
// Failures are dimensioned by error code, never by identifiers.
func (m *Metrics) RecordOperation(ctx context.Context, operation string, duration time.Duration, err error) {
	status := "success"
	code := "OK"
	if err != nil {
		status = "failure"
		code = pkgerrors.CodeOf(err)
	}
	ts := aws.Time(m.now())

	m.put(ctx, []types.MetricDatum{
		{
			MetricName: aws.String("OperationLatency"),
			Dimensions: []types.Dimension{
				{Name: aws.String("Operation"), Value: aws.String(operation)},
			},
			Value:     aws.Float64(float64(duration.Milliseconds())),
			Unit:      types.StandardUnitMilliseconds,
			Timestamp: ts,
		},
		{
			MetricName: aws.String("OperationCount"),
			Dimensions: []types.Dimension{
				{Name: aws.String("Operation"), Value: aws.String(operation)},
				{Name: aws.String("Status"), Value: aws.String(status)},
				{Name: aws.String("Code"), Value: aws.String(code)},
			},
			Value:     aws.Float64(1),
			Unit:      types.StandardUnitCount,
			Timestamp: ts,
		},
	})
}

// RecordAuditFailure counts audit entries that could not be written. Any non-zero value is an incident.
func (m *Metrics) RecordAuditFailure(ctx context.Context, operation string) {
	m.put(ctx, []types.MetricDatum{
		{
			MetricName: aws.String("AuditWriteFailures"),
			Dimensions: []types.Dimension{
				{Name: aws.String("Operation"), Value: aws.String(operation)},
			},
			Value:     aws.Float64(1),
			Unit:      types.StandardUnitCount,
			Timestamp: aws.Time(m.now()),
		},
	})
}

func (m *Metrics) put(ctx context.Context, data []types.MetricDatum) {
	if m.client == nil {
		return
	}
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	})
	if err != nil {
		// Metrics never fail the operation
		m.logger.Warn("Failed to publish metrics", zap.String("namespace", m.namespace), zap.Error(err))
	}
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordOperation(context.Context, string, time.Duration, error) {}

func (NopRecorder) RecordAuditFailure(context.Context, string) {}
