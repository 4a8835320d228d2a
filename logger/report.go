package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

var (
	pagesFetched    int64
	recordsWritten  int64
	recordsRejected int64
	componentWarns  sync.Map // map[string]*int64
	componentErrors sync.Map // map[string]*int64
)

func recordWarn(component string) {
	v, _ := componentWarns.LoadOrStore(component, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func recordError(component string) {
	v, _ := componentErrors.LoadOrStore(component, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

// IncrementPagesFetched records a consumed feed page.
func IncrementPagesFetched() {
	atomic.AddInt64(&pagesFetched, 1)
}

// IncrementRecordsWritten records n successful upserts.
func IncrementRecordsWritten(n int) {
	atomic.AddInt64(&recordsWritten, int64(n))
}

// IncrementRecordsRejected records n validation rejections.
func IncrementRecordsRejected(n int) {
	atomic.AddInt64(&recordsRejected, int64(n))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of ingest and error counters.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	warns := map[string]int64{}
	componentWarns.Range(func(k, v any) bool {
		warns[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	errors := map[string]int64{}
	componentErrors.Range(func(k, v any) bool {
		errors[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})

	fields := Fields{
		"pages_fetched":    atomic.LoadInt64(&pagesFetched),
		"records_written":  atomic.LoadInt64(&recordsWritten),
		"records_rejected": atomic.LoadInt64(&recordsRejected),
		"warns":            warns,
		"errors":           errors,
		"goroutines":       runtime.NumGoroutine(),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("pages_fetched"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&pagesFetched)))},
		{MetricName: aws.String("records_written"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&recordsWritten)))},
		{MetricName: aws.String("records_rejected"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&recordsRejected)))},
	}
	for component, count := range errors {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String("component_errors"),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(component)}},
			Value:      aws.Float64(float64(count)),
		})
	}

	publishMetrics(ctx, data)
}
