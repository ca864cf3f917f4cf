// Package metrics holds prometheus collectors shared by the milter and
// beacon servers, scraped via /metrics endpoint of the beacon server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RewritesTotal counts end-of-message rewrite outcomes by mode
	RewritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackd_rewrites_total",
			Help: "Message rewrite outcomes by parse mode.",
		},
		[]string{"mode"},
	)
	// StoreFailures counts message store errors, delivery proceeds anyway
	StoreFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trackd_store_failures_total",
			Help: "Message store write failures.",
		},
	)
	// PixelsServed counts beacon image responses
	PixelsServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trackd_pixels_served_total",
			Help: "Beacon pixel responses served.",
		},
	)
	// OpensRecorded counts open events successfully persisted
	OpensRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trackd_opens_recorded_total",
			Help: "Open events recorded into the message store.",
		},
	)
	// OpenFailures counts beacon fetches whose event could not be persisted
	OpenFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trackd_open_failures_total",
			Help: "Beacon fetches whose open event was dropped.",
		},
	)
)
