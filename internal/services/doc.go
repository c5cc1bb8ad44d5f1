// Package services sits between the transports (HTTP, WebSocket, CLI) and
// the workflow core in internal/operations.
//
// RunService launches runs over a bounded worker pool and keeps a handle
// per run so that later requests can query or cancel it:
//
//	svc := services.NewRunService(pool, sink, services.RunServiceOptions{...})
//	cancel, stream, runID, err := svc.Launch(ctx, pairs, 3)
//	for e := range stream {
//	    // workflow_started, workflow_progress, workflow_finished, run_progress
//	}
//
// Finished runs are written to the history store when one is configured.
// The stream closes after the last event of the run.
//
// NewWorkflowBuilder turns the loaded configuration, the city file and the
// recipe catalog into the operations.WorkflowBuilder the pool calls for
// every pair. Each pair gets its own workspace, browser session and
// processing report.
//
// HealthService reports liveness and the state of the run service, the
// WebSocket hub and the history store.
package services
