/*
Package api serves deployd's operational HTTP endpoints.

The HealthServer listens on the metrics address and exposes:

	/health      liveness with the build version
	/ready       readiness: storage answers and critical components are healthy
	/live        process uptime
	/components  health of every registered component
	/metrics     Prometheus metrics

Host pings and administrative writes do not go through this server.
*/
package api
