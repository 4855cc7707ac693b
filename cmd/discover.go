package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/pseudocoder/wssh/internal/config"
	"github.com/pseudocoder/wssh/internal/mdns"
	wsshtls "github.com/pseudocoder/wssh/internal/tls"
)

// discoverServers is replaced in tests.
var discoverServers = mdns.Discover

func runDiscover(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to config file (default: ~/.wssh/config.toml)")
	timeoutMs := fs.Int("timeout-ms", 0, "How long to browse, in ms (default: 3000)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: wssh discover [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *timeoutMs > 0 {
		cfg.DiscoverTimeoutMs = *timeoutMs
	}
	cfg.ApplyDefaults()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.DiscoverTimeoutMs)*time.Millisecond)
	defer cancel()

	servers, err := discoverServers(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: discovery failed: %v\n", err)
		return 1
	}
	if len(servers) == 0 {
		fmt.Fprintln(stdout, "No webssh servers found.")
		return 0
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tURL\tFINGERPRINT")
	for _, s := range servers {
		fp := s.Fingerprint
		if fp == "" {
			fp = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, s.URL(), fp)
	}
	w.Flush()
	return 0
}

func runAnnounce(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("announce", flag.ContinueOnError)
	fs.SetOutput(stderr)

	port := fs.Int("port", 8888, "Port the webssh server listens on")
	path := fs.String("path", "/", "Page path on the server")
	useTLS := fs.Bool("tls", false, "The server serves https")
	cert := fs.String("cert", "", "PEM certificate of the server, advertised as a fingerprint (implies --tls)")
	name := fs.String("name", "", "Name to advertise (default: system hostname)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: wssh announce [options]\n\nAdvertise a webssh server that does not announce itself.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if *port <= 0 || *port > 65535 {
		fmt.Fprintf(stderr, "Error: invalid port %d\n", *port)
		return 1
	}

	cfg := mdns.Config{Port: *port, Path: *path, TLS: *useTLS, Name: *name}
	if *cert != "" {
		pemData, err := os.ReadFile(*cert)
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to read certificate: %v\n", err)
			return 1
		}
		fp, err := wsshtls.ComputeFingerprintFromPEM(pemData)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		cfg.Fingerprint = fp
		cfg.TLS = true
	}

	adv := mdns.NewAdvertiser(cfg)
	if err := adv.Start(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer adv.Stop()

	fmt.Fprintf(stdout, "Advertising %s on port %d. Press Ctrl-C to stop.\n", mdns.ServiceType, *port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	return 0
}

func runFingerprint(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("fingerprint", flag.ContinueOnError)
	fs.SetOutput(stderr)

	timeoutMs := fs.Int("timeout-ms", 5000, "Connection timeout, in ms")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: wssh fingerprint [options] <host:port>\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return 1
	}
	addr := fs.Arg(0)
	if _, _, err := net.SplitHostPort(addr); err != nil {
		// A bare host means the https default port.
		addr = net.JoinHostPort(addr, strconv.Itoa(443))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*timeoutMs)*time.Millisecond)
	defer cancel()

	fp, err := wsshtls.ProbeFingerprint(ctx, addr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, fp)
	return 0
}
