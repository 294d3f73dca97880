// Command api serves trip-card arrivals over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"tripcards.app/internal/appconf"
	"tripcards.app/internal/models"
)

// Stamped with -ldflags "-X main.version=... -X main.commit=... -X main.buildTime=...".
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = ""
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		envFile    = flag.String("env-file", ".env", "dotenv file with feed credentials")
		port       = flag.Int("port", 0, "API server port (overrides the config file)")
		env        = flag.String("env", "", "environment: development, test or production")
		apiKeys    = flag.String("api-keys", "", "comma-separated API keys (overrides the config file)")
	)
	flag.Parse()

	cfg, err := appconf.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Port = *port
	}
	if *env != "" {
		parsed, err := appconf.ParseEnvironment(*env)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		cfg.Env = parsed
	}
	if *apiKeys != "" {
		cfg.ApiKeys = ParseAPIKeys(*apiKeys)
	}

	coreApp, err := BuildApplication(context.Background(), cfg, models.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup: %v\n", err)
		os.Exit(1)
	}

	srv, api := CreateServer(coreApp, cfg)
	if err := Run(srv, coreApp, api); err != nil {
		coreApp.Logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}
