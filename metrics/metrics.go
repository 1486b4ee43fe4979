package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type VidModMetrics struct {
	UploadRequestCount    prometheus.Counter
	OperationCount        *prometheus.CounterVec
	OperationDurationSec  *prometheus.SummaryVec
	ExternalCallDuration  *prometheus.HistogramVec
	MaskCacheHitCount     prometheus.Counter
	MaskCacheMissCount    prometheus.Counter
	JobRecoveryCount      *prometheus.CounterVec
	ClonedVoiceLeakGuard  prometheus.Counter
}

var Metrics = NewMetrics()

func NewMetrics() *VidModMetrics {
	m := &VidModMetrics{
		UploadRequestCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "upload_request_count",
			Help: "The total number of requests to /api/upload",
		}),
		OperationCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "edit_operation_count",
			Help: "The total number of edit operations run, broken up by operation and success",
		}, []string{"operation", "success"}),
		OperationDurationSec: promauto.NewSummaryVec(prometheus.SummaryOpts{
			Name: "edit_operation_duration_seconds",
			Help: "The time edit operations take to run, broken up by operation and success",
		}, []string{"operation", "success"}),
		ExternalCallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "external_call_duration_seconds",
			Help:    "Time taken by calls to external AI services",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"service"}),
		MaskCacheHitCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mask_cache_hit_count",
			Help: "The number of segmentation calls avoided by the mask cache",
		}),
		MaskCacheMissCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mask_cache_miss_count",
			Help: "The number of mask cache misses that caused a segmentation call",
		}),
		JobRecoveryCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "job_recovery_count",
			Help: "The number of jobs recovered after a restart, broken up by source",
		}, []string{"source"}),
		ClonedVoiceLeakGuard: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cloned_voice_delete_failure_count",
			Help: "The number of cloned voices whose deletion failed and may be leaked",
		}),
	}
	return m
}

func Handler() http.Handler {
	return promhttp.Handler()
}
