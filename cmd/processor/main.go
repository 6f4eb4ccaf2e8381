// The processor binary serves the chunk transform endpoint.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/Tanayk7/etl-lambdas/internal/config"
	"github.com/Tanayk7/etl-lambdas/internal/processor"
)

func main() {
	var (
		cfgPath  string
		addr     string
		validate bool
	)
	flag.StringVar(&cfgPath, "config", "configs/pipeline.json", "config JSON path")
	flag.StringVar(&addr, "addr", "", "listen address (overrides config server.addr)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	issues := config.Validate(cfg, config.ComponentProcessor)
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasError(issues) {
		fatalf("configuration is invalid: %s", cfgPath)
	}
	if validate {
		log.Printf("configuration is valid: %s", cfgPath)
		return
	}

	srv := processor.NewServer(processor.Config{Addr: cfg.Server.Addr})
	if err := srv.ListenAndServe(); err != nil {
		fatalf("serve: %v", err)
	}
}

func fatalf(format string, args ...any) {
	log.Printf(format, args...)
	os.Exit(1)
}
