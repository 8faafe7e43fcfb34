package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cartMergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_merges_total",
			Help: "Session-to-user cart merges by result",
		},
		[]string{"result"},
	)

	cartMergedItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_merge_items_total",
			Help: "Session items processed during merges by outcome (moved, combined, skipped)",
		},
		[]string{"outcome"},
	)

	cartCacheInvalidationErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cart_cache_invalidation_errors_total",
			Help: "Cache invalidations that failed after a successful mutation",
		},
	)
)
