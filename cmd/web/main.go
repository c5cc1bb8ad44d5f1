// Command web serves the harvester's control page, REST API and progress
// WebSocket on localhost and opens the page in the default browser.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"munireports/internal/app"
	"munireports/internal/config"
)

type flags struct {
	configFile string
	port       int
	noBrowser  bool
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("web", flag.ContinueOnError)
	fs.StringVar(&f.configFile, "config", "", "config file (default: config.yaml lookup)")
	fs.IntVar(&f.port, "port", 0, "listen port (overrides server.port)")
	fs.BoolVar(&f.noBrowser, "no-browser", false, "do not open the control page")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if f.port < 0 || f.port > 65535 {
		return f, fmt.Errorf("invalid port %d", f.port)
	}
	return f, nil
}

// loadConfig applies the command-line overrides on top of config.Load
func loadConfig(f flags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if f.configFile != "" {
		cfg, err = config.LoadFrom(f.configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if f.port != 0 {
		cfg.Server.Port = f.port
	}
	if f.noBrowser {
		cfg.Server.OpenBrowser = false
	}
	return cfg, nil
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Server panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			os.Exit(1)
		}
	}()

	f, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	cfg, err := loadConfig(f)
	if err != nil {
		slog.Error("Failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	application, err := app.New(app.Options{Config: cfg})
	if err != nil {
		slog.Error("Failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		application.Logger.Error("Application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
