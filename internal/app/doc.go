// Package app wires the report harvester together and owns its lifecycle.
//
// New loads the configuration, resolves the data root, reads the city and
// recipe catalogs, opens the run history and builds the worker pool, run
// service, WebSocket hub and HTTP router. Anything New cannot load by itself
// (a browser factory, a launcher, an OTel setup) can be injected through
// Options, which is how the tests run the whole stack without Chrome.
//
// # Routes
//
//	/ws                  progress stream (outside the full middleware stack)
//	/metrics             Prometheus scrape endpoint, when enabled
//	/api/health          readiness and liveness
//	/api/v1/runs         start, list, inspect and cancel runs
//	/api/v1/cities       configured municipalities
//	/api/v1/recipes      report recipes, optionally per city
//	/api/v1/workspaces   open a workspace, list and download converted files
//	/api/v1/history      finished pairs and run summaries
//	/api/v1/client-log   browser-side log forwarding
//	/                    embedded control page
//
// # Shutdown
//
// Stop stops accepting requests, cancels running workflows and waits for
// them to record their history, then closes the hub, the progress sink, the
// history store and the OTel providers, in that order.
package app
