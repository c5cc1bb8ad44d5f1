// Package operations drives the retrieval of accounting reports for
// (city, year) pairs.
//
// Core Components:
//
// Workflow: Runs one pair through a linear state machine: authenticate,
// select the municipality/year context, submit the first batch of recipes,
// wait out the cooling-off and harvest the results, repeat for the second
// batch, then convert everything in raw/ to .xlsx. Each recipe is submitted
// from a one-shot browser session; each harvest uses a fresh session.
//
// Executor: Interprets the typed steps of a recipe against a browser
// session, with native, label and synthetic click fallbacks.
//
// Harvester: Waits out the server-side queue in short steps, clicks every
// listed download and promotes unique files into raw/.
//
// Pool: Runs up to five workflows at once. All of them share one Token;
// tripping it cancels every worker within one check interval.
//
// Report: The per-workflow processing report, written into the workspace
// on every terminal state.
//
// Example usage:
//
//	pool := operations.NewPool(build, logger)
//	h := pool.Start(ctx, runID, []operations.Pair{{City: "congonhas", Year: 2025}}, 1, operations.NewToken(), sink)
//	h.Join(0)
//	for _, out := range h.Outcomes() {
//		fmt.Println(out.City, out.Year, out.State, out.Status)
//	}
package operations
