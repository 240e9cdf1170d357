package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"dupfinder/logger"
	"dupfinder/tracing"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&scanCmd{}, "")
	subcommands.Register(&listCmd{}, "")
	subcommands.Register(&loadCmd{}, "")
	subcommands.Register(&forgetCmd{}, "")
	subcommands.Register(&versionCmd{}, "")

	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(int(subcommands.ExitUsageError))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel, logger.New("info"))

	os.Exit(int(subcommands.Execute(ctx)))
}

// flightDump is where an interrupt writes the flight recorder window while
// a scan has one running.
var flightDump atomic.Value

func setFlightDumpPath(path string) { flightDump.Store(path) }

func flightDumpPath() string {
	path, _ := flightDump.Load().(string)
	return path
}

func handleSignals(cancel context.CancelFunc, log logrus.FieldLogger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	handleSignalEvent(cancel, log, sigChan)
}

// handleSignalEvent waits for one signal, dumps the flight recorder when
// it is running, and cancels the scan.
func handleSignalEvent(cancel context.CancelFunc, log logrus.FieldLogger, sigChan <-chan os.Signal) {
	sig, ok := <-sigChan
	if !ok {
		return
	}
	log.WithField("signal", sig.String()).Info("Interrupt signal received. Shutting down...")
	if path := flightDumpPath(); path != "" {
		if err := tracing.WriteFlightRecorder(path); err != nil {
			log.Warnf("Failed to write flight recorder: %v", err)
		}
	}
	cancel()
}
