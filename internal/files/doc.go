// Package files implements the staged file pipeline of a city-year
// workspace.
//
// The browser writes into download/. Finished, de-duplicated .xls files are
// promoted into raw/ and converted into converted/ as .xlsx:
//
//	ws := files.NewWorkspace(paths.WorkspaceDir("congonhas", 2025), logger)
//	_ = ws.Ensure()
//	ok, _ := ws.WaitDownloadsComplete(ctx, 30*time.Second)
//	n, _ := ws.PromoteUnique()
//	res, _ := ws.ConvertAllRaw(ctx, files.NewXLSCodec())
//
// Browser-renamed copies such as "Report (1).xls" never leave download/,
// and name clashes in raw/ are resolved as "Report_1.xls".
package files
