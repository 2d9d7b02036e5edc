package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/smtptools/harness/harness"
	"github.com/smtptools/harness/history"
	"github.com/smtptools/harness/smtptest"
	"github.com/smtptools/harness/userconfig"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Log with filename and line number. This writes to stderr, so it
	// should be thread safe and keeps stdout clean for the pass/fail
	// verdict.
	log.Logger = log.With().Caller().Logger()

	configPath := flag.String(
		"config",
		"./config.yaml",
		"path to a JSON or YAML file containing your configuration",
	)
	lastRun := flag.Bool(
		"lastrun",
		false,
		"print the most recent recorded run as JSON and exit",
	)
	mockServer := flag.Bool(
		"mockserver",
		false,
		"run a local SMTP server that accepts everything, instead of the harness",
	)
	mockAddr := flag.String(
		"addr",
		"127.0.0.1:2525",
		"address for the mock server (only with -mockserver)",
	)
	level := flag.String(
		"level",
		"info",
		`log level: "info", "debug", or "warn"`,
	)
	flag.Parse()

	switch *level {
	case "debug":
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	case "warn":
		log.Logger = log.Logger.Level(zerolog.WarnLevel)
	default:
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	if *mockServer {
		runMockServer(*mockAddr)
		return
	}

	f, err := os.Open(*configPath)

	if err != nil {
		log.Error().
			Str("config-path", *configPath).
			Err(err).
			Msg("We can't open the harness config file")
		os.Exit(harness.ExitConfig)
	}

	config, err := userconfig.Parse(f)

	if err != nil {
		log.Error().
			Err(err).
			Msg("Problem parsing your config")
		os.Exit(harness.ExitConfig)
	}

	checkedConfig, err := config.CheckAndSetDefaults()
	if err != nil {
		log.Error().
			Err(err).
			Msg("Problem validating your config")
		os.Exit(harness.ExitConfig)
	}

	if *lastRun {
		printLastRun(&checkedConfig.History)
		return
	}

	log.Info().
		Str("configPath", *configPath).
		Strs("serverCommand", checkedConfig.Server.Command).
		Msg("starting the harness")

	// An interrupt cancels the run context; the harness tears the server
	// process down on that path like any other, so no orphan survives a
	// Ctrl-C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, err = harness.Run(ctx, &checkedConfig)
	if err != nil {
		var tf *harness.TestFailure
		if errors.As(err, &tf) {
			// The verdict consumers of the original runner looked for
			fmt.Println("SMTP test failed")
		}
		log.Error().Err(err).Msg("the run did not pass")
		os.Exit(harness.ExitCode(err))
	}
}

// runMockServer runs the in-process SMTP server in the foreground until an
// interrupt, so a harness config can be exercised without a real server.
func runMockServer(addr string) {
	srv := smtptest.NewInsecureServer(addr)

	if err := srv.Listen(); err != nil {
		log.Error().Str("addr", addr).Err(err).Msg("can't start the mock server")
		os.Exit(harness.ExitConfig)
	}

	log.Info().Str("addr", srv.Address()).Msg("mock SMTP server listening; interrupt to stop")

	go func() {
		if err := srv.Serve(); err != nil {
			log.Debug().Err(err).Msg("the mock server stopped serving")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("interrupt: stopping the mock server")
	srv.Close()
}

// printLastRun writes the most recent run record to stdout as JSON.
func printLastRun(conf *userconfig.History) {
	if conf.StorageDirPath == "" {
		log.Error().Msg("the config doesn't enable run history, so there's nothing to show")
		os.Exit(harness.ExitConfig)
	}

	db, err := history.NewBadgerStore(&history.Config{
		StorageDirPath: conf.StorageDirPath,
		KeyTTLDuration: conf.KeyTTLDuration,
	})
	if err != nil {
		log.Error().Err(err).Msg("can't open the run history store")
		os.Exit(harness.ExitConfig)
	}
	defer db.Close()

	rec, err := db.Last()
	if err != nil {
		log.Error().Err(err).Msg("can't read the most recent run")
		os.Exit(harness.ExitConfig)
	}

	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("can't serialize the run record")
		os.Exit(harness.ExitConfig)
	}
	fmt.Println(string(out))
}
