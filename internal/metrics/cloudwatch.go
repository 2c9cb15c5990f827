package metrics

import (
	"context"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"golang.org/x/time/rate"

	"marketpulse/logger"
)

const cloudWatchQueueSize = 256

type cloudWatchState struct {
	client    *cloudwatch.Client
	namespace string
	region    string
	limiter   *rate.Limiter
	queue     chan metricDatum
	done      chan struct{}
}

type metricDatum struct {
	component string
	name      string
	value     float64
	fields    logger.Fields
}

var (
	cwMu        sync.Mutex
	cwState     *cloudWatchState
	cwHandlerID MetricHandlerID
)

// InitCloudWatch initialises the CloudWatch client using the provided
// region and namespace and registers an asynchronous publisher for
// emitted metrics. When the client cannot be created the function logs
// a warning and leaves publishing disabled.
func InitCloudWatch(region, namespace string) {
	log := logger.GetLogger().WithComponent("cloudwatch")

	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	ctx := context.Background()
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	state := &cloudWatchState{
		client:    cloudwatch.NewFromConfig(cfg),
		namespace: "MarketPulse",
		limiter:   rate.NewLimiter(rate.Limit(10), 20),
		queue:     make(chan metricDatum, cloudWatchQueueSize),
		done:      make(chan struct{}),
	}
	if namespace != "" {
		state.namespace = namespace
	}
	if cfg.Region != "" {
		state.region = cfg.Region
	} else {
		state.region = region
	}

	cwMu.Lock()
	if cwHandlerID != 0 {
		UnregisterMetricHandler(cwHandlerID)
	}
	if cwState != nil {
		close(cwState.done)
	}
	cwState = state
	cwHandlerID = RegisterMetricHandler(state.enqueue)
	cwMu.Unlock()

	go state.publishLoop()

	log.WithFields(logger.Fields{
		"region":    state.region,
		"namespace": state.namespace,
	}).Info("initialized CloudWatch client")
}

// enqueue hands a metric to the publisher goroutine. It never blocks:
// the emitting goroutine only performs a buffered channel send, and the
// datum is shed when the publish queue is full. Non-numeric values are
// log-only metrics and skipped here.
func (s *cloudWatchState) enqueue(m Metric) {
	value, ok := toFloat64(m.Value)
	if !ok {
		return
	}
	select {
	case s.queue <- metricDatum{component: m.Component, name: m.Name, value: value, fields: m.Fields}:
	default:
		logger.GetLogger().WithComponent("cloudwatch").WithFields(logger.Fields{"metric": m.Name}).Debug("publish queue full; metric skipped")
	}
}

// publishLoop is the only place that talks to the CloudWatch API, so
// network latency is paid on this goroutine and never by an emitter.
func (s *cloudWatchState) publishLoop() {
	for {
		select {
		case <-s.done:
			return
		case datum := <-s.queue:
			// PutMetricData is throttled per account; shed excess
			// datums rather than letting the queue back up.
			if s.limiter != nil && !s.limiter.Allow() {
				logger.GetLogger().WithComponent("cloudwatch").WithFields(logger.Fields{"metric": datum.name}).Debug("publish rate exceeded; metric skipped")
				continue
			}
			s.publish(context.Background(), datum)
		}
	}
}

func (s *cloudWatchState) publish(ctx context.Context, datum metricDatum) {
	if s.client == nil {
		return
	}

	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(datum.component)}}
	for k, v := range datum.fields {
		if k == "metric" || k == "metric_type" || k == "value" {
			continue
		}
		if str, ok := v.(string); ok && str != "" {
			dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(str)})
		}
	}

	if _, err := s.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(s.namespace),
		MetricData: []cwtypes.MetricDatum{{
			MetricName: aws.String(datum.name),
			Dimensions: dims,
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(datum.value),
		}},
	}); err != nil {
		logger.GetLogger().WithComponent("cloudwatch").WithError(err).Warn("failed to publish CloudWatch metrics")
	}
}
