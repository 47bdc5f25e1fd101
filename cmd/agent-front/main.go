package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/agentfront/agent-front/internal"
	"github.com/agentfront/agent-front/internal/config"
	"github.com/agentfront/agent-front/internal/log"
	"github.com/agentfront/agent-front/internal/report"
)

var BuildVersion = "dev"

func main() {
	version := flag.Bool("version", false, "print version and exit")
	help := flag.Bool("help", false, "print help and exit")
	flag.Parse()

	if *help {
		flag.Usage()
		return
	}
	if *version {
		fmt.Println(BuildVersion)
		return
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.LogError("Invalid configuration: %v", err)
		os.Exit(1)
	}

	if err := report.Init(os.Getenv("SENTRY_DSN"), os.Getenv("ENVIRONMENT")); err != nil {
		log.LogError("Failed to initialize error reporting: %v", err)
		os.Exit(1)
	}

	log.LogInfoWithFields("main", "Starting agent-front", map[string]any{
		"version": BuildVersion,
		"addr":    cfg.Addr,
	})

	app, err := internal.NewAgentFront(cfg, BuildVersion)
	if err != nil {
		log.LogError("Failed to build application: %v", err)
		os.Exit(1)
	}

	if err := app.Run(context.Background()); err != nil {
		log.LogError("Application error: %v", err)
		os.Exit(1)
	}
}
