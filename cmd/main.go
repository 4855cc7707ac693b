package main

import (
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.1.0" ./cmd
var Version = "dev"

const usage = `wssh - terminal client for webssh servers

Usage:
  wssh <command> [options]

Commands:
  connect       Open a session through a webssh server
  init          Write a default config file
  fields list   Show the remembered connection fields
  fields clear  Forget the remembered connection fields
  history       Show recent sessions
  discover      Find webssh servers on the local network
  announce      Advertise a webssh server on the local network
  fingerprint <host:port>  Show a server's TLS certificate fingerprint
Run 'wssh <command> --help' for more information on a command.
`

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprint(stdout, usage)
		return 0
	}

	switch args[1] {
	case "connect":
		return runConnect(args[2:], stdout, stderr)
	case "init":
		return runInit(args[2:], stdout, stderr)
	case "fields":
		if len(args) < 3 {
			fmt.Fprintln(stdout, "Usage: wssh fields <list|clear>")
			return 1
		}
		switch args[2] {
		case "list":
			return runFieldsList(args[3:], stdout, stderr)
		case "clear":
			return runFieldsClear(args[3:], stdout, stderr)
		default:
			fmt.Fprintf(stdout, "Unknown fields command: %s\n", args[2])
			return 1
		}
	case "history":
		return runHistory(args[2:], stdout, stderr)
	case "discover":
		return runDiscover(args[2:], stdout, stderr)
	case "announce":
		return runAnnounce(args[2:], stdout, stderr)
	case "fingerprint":
		return runFingerprint(args[2:], stdout, stderr)
	case "--help", "-h", "help":
		fmt.Fprint(stdout, usage)
		return 0
	case "--version", "-v", "version":
		fmt.Fprintf(stdout, "wssh %s\n", Version)
		return 0
	default:
		fmt.Fprintf(stdout, "Unknown command: %s\n", args[1])
		fmt.Fprint(stdout, usage)
		return 1
	}
}
