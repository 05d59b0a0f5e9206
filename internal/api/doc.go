// Package api hosts the status listener that runs alongside a harvest.
// Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/run for the current run snapshot.
package api
