// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/mkarlsen/omnicast/internal/logging"
	"github.com/mkarlsen/omnicast/internal/metrics"
)

// correlationHeader carries the pipeline trace ID. Accepted from the edge
// when present, minted here otherwise, and always echoed in the response.
const correlationHeader = "X-Correlation-ID"

// correlationMiddleware restores or mints the correlation ID so every log
// line and downstream event of the request carries it.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get(correlationHeader)
		if cid == "" {
			cid = logging.GenerateCorrelationID()
		}

		ctx := logging.ContextWithCorrelationID(r.Context(), cid)
		ctx = logging.ContextWithRequestID(ctx, logging.GenerateRequestID())
		w.Header().Set(correlationHeader, cid)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// metricsMiddleware records request latency by method, route pattern, and
// status class.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).
			Observe(time.Since(start).Seconds())
	})
}
