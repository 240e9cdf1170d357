package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"dupfinder/version"

	"github.com/google/subcommands"
)

type versionCmd struct{}

func (*versionCmd) Name() string     { return "version" }
func (*versionCmd) Synopsis() string { return "Print version information" }
func (*versionCmd) Usage() string {
	return `version:
  Print version, build commit, and build date information.
`
}

func (*versionCmd) SetFlags(f *flag.FlagSet) {}

func (*versionCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	printVersion(os.Stdout)
	return subcommands.ExitSuccess
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "dupfinder version %s\n", version.Version)
	fmt.Fprintf(w, "commit: %s\n", version.Commit)
	fmt.Fprintf(w, "built: %s\n", version.Date)
}
