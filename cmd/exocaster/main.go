// ABOUTME: exocaster entry point
// ABOUTME: Parses flags, loads the configuration and runs the server
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/ziplantil/exocaster/internal/broca"
	"github.com/ziplantil/exocaster/internal/config"
	"github.com/ziplantil/exocaster/internal/decoder"
	"github.com/ziplantil/exocaster/internal/encoder"
	"github.com/ziplantil/exocaster/internal/logging"
	"github.com/ziplantil/exocaster/internal/queue"
	"github.com/ziplantil/exocaster/internal/resampler"
	"github.com/ziplantil/exocaster/internal/server"
	"github.com/ziplantil/exocaster/internal/version"
)

func printVersion() {
	fmt.Printf("%s: broadcasting middleman\n", version.Product)
	fmt.Printf("version %s\n", version.Version)
	for _, family := range []struct {
		name  string
		types []string
	}{
		{"read queues", queue.ReadTypes()},
		{"write queues", queue.WriteTypes()},
		{"decoders", decoder.Types()},
		{"encoders", encoder.Types()},
		{"resamplers", resampler.Types()},
		{"brocas", broca.Types()},
	} {
		fmt.Printf("[supported %s] %s\n", family.name,
			strings.Join(family.types, " "))
	}
}

func main() {
	flags := pflag.NewFlagSet(version.Product, pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "config.json",
		"configuration file path")
	showVersion := flags.BoolP("version", "v", false,
		"print version and supported plugins")
	showHelp := flags.BoolP("help", "h", false, "display help")
	flags.BoolVarP(showHelp, "help-alt", "?", *showHelp, "display help")
	flags.Lookup("help-alt").Hidden = true
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s: broadcasting middleman\n", version.Product)
		fmt.Fprintln(os.Stderr, flags.FlagUsages())
	}

	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}
	if *showHelp {
		flags.Usage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read configuration, exiting: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging setup failed, exiting: %v\n", err)
		os.Exit(1)
	}

	if err := server.CheckTypes(cfg); err != nil {
		log.Error("configuration names unknown plugin types", "error", err)
		os.Exit(1)
	}

	srv, err := server.New(cfg, log)
	if err != nil {
		log.Error("failed to start server, exiting", "error", err)
		os.Exit(1)
	}
	if err := srv.Run(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
