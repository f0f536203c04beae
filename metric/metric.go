/*
 * Copyright 2026 The DataGEMS Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package metric collects service side counters for query rewriting,
// annotation state changes and the HTTP api.
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	// RequestCount counts served api requests by route and status code.
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ap_explanation",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Number of served api requests.",
		},
		[]string{"route", "status"},
	)

	// RequestDuration observes api request durations by route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ap_explanation",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Duration of served api requests.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// RewriteCount counts query rewrites by path: plain, aggregate or
	// cache_hit.
	RewriteCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ap_explanation",
			Subsystem: "rewriter",
			Name:      "rewrites_total",
			Help:      "Number of query rewrites by rewrite path.",
		},
		[]string{"path"},
	)

	// AnnotationCount counts annotation state changes by operation and
	// outcome.
	AnnotationCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ap_explanation",
			Subsystem: "repository",
			Name:      "annotations_total",
			Help:      "Number of annotation state operations by outcome.",
		},
		[]string{"op", "outcome"},
	)
)

func init() {
	registry.MustRegister(RequestCount, RequestDuration, RewriteCount, AnnotationCount)
}

// Handler returns the http handler exposing the service metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
