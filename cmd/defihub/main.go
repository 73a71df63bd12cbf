// Command defihub quotes, previews and executes hub contract calls and serves
// the defihub HTTP gateway.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"defihub/config"
)

var version = "dev"

// configLoader defers reading the configuration until a command needs it.
type configLoader func() (config.Config, error)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("defihub", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", os.Getenv("DEFIHUB_CONFIG"), "path to a YAML or TOML configuration file")
	fs.Usage = func() { printUsage(stderr) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		printUsage(stderr)
		return 2
	}
	load := func() (config.Config, error) {
		return config.Load(*cfgPath)
	}

	command, cmdArgs := strings.ToLower(rest[0]), rest[1:]
	switch command {
	case "serve":
		return runServe(cmdArgs, load, stdout, stderr)
	case "assets":
		return runAssets(cmdArgs, load, stdout, stderr)
	case "quote":
		return runQuote(cmdArgs, load, stdout, stderr)
	case "health":
		return runHealth(cmdArgs, load, stdout, stderr)
	case "build":
		return runBuild(cmdArgs, load, stdout, stderr)
	case "swap", "supply", "borrow", "stake", "unstake":
		return runExecute(command, cmdArgs, load, stdout, stderr)
	case "position":
		return runPosition(cmdArgs, load, stdout, stderr)
	case "status":
		return runStatus(cmdArgs, load, stdout, stderr)
	case "journal":
		return runJournal(cmdArgs, load, stdout, stderr)
	case "config":
		return runConfig(cmdArgs, stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, version)
		return 0
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command %q\n", rest[0])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `Usage: defihub [--config path] <command> [arguments]

Commands:
  serve                                  run the HTTP gateway and price refresher
  assets                                 list configured assets
  quote <from> <to> <amount>             estimate a swap
  health --supply A=1 --borrow B=2       evaluate a hypothetical position
  build <kind> --source G...             preview a contract call without signing
  swap <from> <to> <amount>              execute a swap through the wallet bridge
  supply|borrow <asset> <amount>         execute a lending call
  stake|unstake <amount>                 execute a staking call
  position [account]                     read and value an on-chain position
  status <hash>                          query a submitted transaction
  journal list|reconcile                 inspect or reconcile recorded calls
  config init <path>                     write the default configuration
  version                                print the build version`)
}
