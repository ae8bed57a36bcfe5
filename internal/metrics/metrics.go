package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MountTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapview_mount_total",
		Help: "Map mounts by provider variant and result",
	}, []string{"variant", "result"})
	SDKLoadTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapview_sdk_load_total",
		Help: "Provider SDK loads by variant and result (hit, ok, fail)",
	}, []string{"variant", "result"})
	SDKLoadDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mapview_sdk_load_duration_ms",
		Help:    "Provider SDK load duration in milliseconds",
		Buckets: []float64{5, 10, 20, 50, 100, 200, 500, 1000, 3000},
	}, []string{"variant"})
	RenderTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapview_render_total",
		Help: "Render passes by provider variant",
	}, []string{"variant"})
	OverlaysPerRender = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mapview_overlays_per_render",
		Help:    "Overlays created per render pass",
		Buckets: []float64{0, 1, 10, 50, 100, 500, 1000, 5000},
	}, []string{"variant"})
	FeaturesSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapview_features_skipped_total",
		Help: "Features or feature parts skipped during rendering",
	}, []string{"reason"})
	ClickTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapview_click_total",
		Help: "Surface clicks by outcome (hit, miss)",
	}, []string{"variant", "outcome"})
	ViewRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapview_view_rejected_total",
		Help: "Camera reports ignored because of non-finite center or zoom",
	})
	FeatureSourceTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapview_feature_source_total",
		Help: "Feature source fetches by source and result",
	}, []string{"source", "result"})
	FeatureCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapview_feature_cache_hits_total",
		Help: "Feature cache hits in redis",
	})
	FeatureCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapview_feature_cache_misses_total",
		Help: "Feature cache misses in redis",
	})
)

func init() {
	prometheus.MustRegister(MountTotal)
	prometheus.MustRegister(SDKLoadTotal)
	prometheus.MustRegister(SDKLoadDurationMs)
	prometheus.MustRegister(RenderTotal)
	prometheus.MustRegister(OverlaysPerRender)
	prometheus.MustRegister(FeaturesSkippedTotal)
	prometheus.MustRegister(ClickTotal)
	prometheus.MustRegister(ViewRejectedTotal)
	prometheus.MustRegister(FeatureSourceTotal)
	prometheus.MustRegister(FeatureCacheHitsTotal)
	prometheus.MustRegister(FeatureCacheMissesTotal)
}

// 文档注释：返回 Prometheus 指标监听器，由预览服务挂载到 /metrics
func Handler() http.Handler { return promhttp.Handler() }
