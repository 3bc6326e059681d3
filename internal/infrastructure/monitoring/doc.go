/*
Package monitoring provides worker metrics collection.

# Overview

Each worker owns a private Prometheus registry tracking traffic on the
parent channel, uncaught script failures, importScripts loads and the
lifecycle state.

# Usage

	metrics := monitoring.NewMetrics(nil)

	metrics.RecordReceived("user")
	metrics.RecordDropped(monitoring.DropNoHandler)
	metrics.RecordFailure(monitoring.FailureEscalated)

# Metrics Endpoint

When an address is configured the worker serves the registry through
internal/infrastructure/server:

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))
*/
package monitoring
