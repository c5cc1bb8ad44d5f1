// Package http implements the REST surface of the web UI. Handlers are
// thin: they decode and validate the request, call the run service or the
// history store, and render JSON or an RFC 7807 problem.
//
// Routes, mounted by the app under /api:
//
//	POST   /v1/runs                start a run for cities × years
//	GET    /v1/runs                runs retained in memory
//	GET    /v1/runs/{runID}        status of one run
//	DELETE /v1/runs/{runID}        cancel a run
//	GET    /v1/cities              configured cities
//	GET    /v1/recipes             report catalog
//	POST   /v1/workspaces/open     open a workspace in the file explorer
//	GET    /v1/workspaces/{city}/{year}/files
//	GET    /v1/history             recorded workflows
//	GET    /v1/history/runs        recorded runs
//	GET    /v1/history/runs/{runID}
//	POST   /v1/client-log          browser-side log lines
//	GET    /health                 health check
//	GET    /health/live            liveness check
//
// Service errors are translated to APIError values by translateError so
// that the shared ErrorHandler picks the right status and problem type.
package http
