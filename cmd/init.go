package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/pseudocoder/wssh/internal/bridge"
	"github.com/pseudocoder/wssh/internal/config"
)

func runInit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(stderr)

	path := fs.String("config", "", "Where to write the config file (default: ~/.wssh/config.toml)")
	url := fs.String("url", "", "Page URL of the webssh server (default: http://127.0.0.1:8888/)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: wssh init [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if *url != "" {
		if _, err := bridge.BuildURL(*url); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	target := *path
	if target == "" {
		p, err := config.DefaultConfigPath()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		target = p
	}

	if _, err := os.Stat(target); err == nil {
		fmt.Fprintf(stdout, "Config already exists at %s\n", target)
		return 0
	}
	if err := config.WriteDefault(target, *url); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Wrote %s\n", target)
	return 0
}
