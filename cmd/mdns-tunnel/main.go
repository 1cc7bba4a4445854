// mdns-tunnel carries selected mDNS traffic between two network segments over
// a TCP connection.
//
// Based on multicast-relay by Al Smith <ajs@aeschi.eu>
// https://github.com/mojo333/multicast-relay
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mojo333/mdns-tunnel/internal/bridge"
	"github.com/mojo333/mdns-tunnel/internal/config"
	"github.com/mojo333/mdns-tunnel/internal/link"
	"github.com/mojo333/mdns-tunnel/internal/logger"
	"github.com/mojo333/mdns-tunnel/internal/mdns"
	"github.com/mojo333/mdns-tunnel/internal/metrics"
	"github.com/mojo333/mdns-tunnel/internal/netifaces"
	"github.com/mojo333/mdns-tunnel/internal/relay"
	"github.com/mojo333/mdns-tunnel/internal/tunnel"
)

// stringSlice implements flag.Value for repeatable string flags.
type stringSlice []string

func (s *stringSlice) String() string { return strings.Join(*s, ", ") }
func (s *stringSlice) Set(v string) error {
	*s = append(*s, v)
	return nil
}

const usage = "usage: mdns-tunnel server|client -addr ADDR -interface IFACE [flags]"

type options struct {
	role          string
	addr          string
	iface         string
	configPath    string
	domains       stringSlice
	match         string
	retry         time.Duration
	allow         stringSlice
	allowNonEther bool
	metricsAddr   string
	pcap          string
	foreground    bool
	logfile       string
	monitorLog    string
	verbose       bool
	debug         bool
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	if len(args) == 0 {
		return nil, errors.New(usage)
	}
	o := &options{role: args[0]}
	if o.role != "server" && o.role != "client" {
		return nil, fmt.Errorf("unknown role %q\n%s", o.role, usage)
	}

	fs := flag.NewFlagSet("mdns-tunnel "+o.role, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.addr, "addr", "", "Address to listen on (server) or connect to (client), host:port.")
	fs.StringVar(&o.iface, "interface", "", "Interface to capture from and inject into (name, IPv4 address or CIDR).")
	fs.StringVar(&o.configPath, "config", "", "YAML configuration file.")
	fs.Var(&o.domains, "domain", "Relay mDNS records for this domain (specify multiple times).")
	fs.StringVar(&o.match, "match", "", "Domain match policy: exact or canonical. Overrides the configuration file.")
	fs.DurationVar(&o.retry, "retry", 0, "Client: reconnect after this delay when the connection fails. 0 exits instead.")
	fs.Var(&o.allow, "allow", "Server: accept connections only from this address or CIDR (specify multiple times).")
	fs.BoolVar(&o.allowNonEther, "allowNonEther", false, "Allow non-ethernet interfaces to be configured.")
	fs.StringVar(&o.metricsAddr, "metrics", "", "Serve Prometheus metrics on this address.")
	fs.StringVar(&o.pcap, "pcap", "", "Record relayed frames to this pcap file.")
	fs.BoolVar(&o.foreground, "foreground", false, "Do not background, log to stdout.")
	fs.StringVar(&o.logfile, "logfile", "", "Save logs to this file.")
	fs.StringVar(&o.monitorLog, "monitorLog", "", "Record lifecycle events and problems to this file.")
	fs.BoolVar(&o.verbose, "verbose", false, "Enable verbose output.")
	fs.BoolVar(&o.debug, "debug", false, "Enable debug output.")

	if err := fs.Parse(args[1:]); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if o.addr == "" {
		return nil, errors.New("-addr is required")
	}
	if o.iface == "" {
		return nil, errors.New("-interface is required")
	}
	if o.role == "server" && o.retry != 0 {
		return nil, errors.New("-retry applies to the client role only")
	}
	if o.role == "client" && len(o.allow) > 0 {
		return nil, errors.New("-allow applies to the server role only")
	}
	return o, nil
}

// loadConfig merges the configuration file with command line settings.
func loadConfig(o *options) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	cfg.AddDomains(o.domains...)
	if o.match != "" {
		cfg.Match = strings.ToLower(o.match)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	o, err := parseArgs(args, os.Stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, err)
		}
		return 1
	}

	cfg, err := loadConfig(o)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %s\n", err)
		return 1
	}
	policy, _ := cfg.MatchPolicy()

	allow, err := relay.ParseAllow(o.allow)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	// Daemonize if not foreground
	if !o.foreground {
		// No fork; detach stdin and leave supervision to systemd or similar.
		os.Stdin.Close()
	}

	log, err := logger.New(logger.Options{
		Foreground: o.foreground,
		Logfile:    o.logfile,
		Verbose:    o.verbose,
		Debug:      o.debug,
		Syslog:     !o.foreground,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %s\n", err)
		return 1
	}
	defer log.Close()
	if o.monitorLog != "" {
		if err := log.SetMonitor(o.monitorLog); err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing logger: %s\n", err)
			return 1
		}
	}

	iface, err := netifaces.Resolve(o.iface, o.allowNonEther)
	if err != nil {
		log.Error("%s", err)
		fmt.Fprintf(os.Stderr, "Error resolving interface: %s\n", err)
		return 1
	}

	ep, err := link.Open(iface, cfg.LinkOptions())
	if err != nil {
		log.Error("%s", err)
		fmt.Fprintf(os.Stderr, "Error opening %s: %s\n", iface.Name, err)
		return 1
	}
	defer ep.Close()

	var rec *link.Recorder
	if o.pcap != "" {
		if rec, err = link.CreateRecorder(o.pcap); err != nil {
			fmt.Fprintf(os.Stderr, "Error opening pcap file: %s\n", err)
			return 1
		}
		defer rec.Close()
	}

	m := metrics.New()
	if o.metricsAddr != "" {
		srv, err := serveMetrics(o.metricsAddr, m)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error starting metrics server: %s\n", err)
			return 1
		}
		defer srv.Close()
		log.Info("Serving metrics on %s", o.metricsAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	echo := link.NewEchoCache(cfg.EchoWindow.Std())
	filter := mdns.NewFilter(cfg.Domains, policy, log)
	br := bridge.New(ep, mdns.NewSelector(filter).Accept,
		bridge.WithLogger(log),
		bridge.WithMetrics(m),
		bridge.WithEchoCache(echo),
		bridge.WithRecorder(rec),
	)
	captureDone := br.Start()
	defer br.Close()

	captureErr := make(chan error, 1)
	go func() {
		err := <-captureDone
		captureErr <- err
		cancel()
	}()

	session := relay.Session{
		Source:       br,
		Injector:     link.NewSharedInjector(ep, echo),
		Log:          log,
		Metrics:      m,
		Recorder:     rec,
		WriteTimeout: cfg.WriteTimeout.Std(),
	}

	log.Monitor("mdns-tunnel %s starting on %s (%s), domains: %s", o.role, iface.Name, o.addr, strings.Join(cfg.Domains, ", "))
	log.Info("Relaying %s matches for %s on %s", policy, strings.Join(cfg.Domains, ", "), iface.Name)

	code := 0
	switch o.role {
	case "server":
		ln, err := net.Listen("tcp", o.addr)
		if err != nil {
			log.Error("%s", err)
			fmt.Fprintf(os.Stderr, "Error listening on %s: %s\n", o.addr, err)
			return 1
		}
		srv := &relay.Server{Session: session, Allow: allow}
		if err := srv.Serve(ctx, ln); err != nil {
			log.Error("%s", err)
			code = 1
		}
	case "client":
		c := &relay.Client{Session: session, Addr: o.addr, Retry: o.retry}
		err := c.Run(ctx)
		switch {
		case errors.Is(err, relay.ErrConnect):
			log.Error("%s", err)
			fmt.Fprintln(os.Stderr, err)
			code = 1
		case err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, tunnel.ErrRemoteClosed):
			log.Warning("Relay stopped: %s", err)
		}
	}

	br.Close()
	if err := ep.Close(); err != nil {
		log.Warning("%s", err)
	}
	if err := <-captureErr; err != nil {
		code = 1
	}
	log.Monitor("mdns-tunnel %s stopped", o.role)
	return code
}

func serveMetrics(addr string, m *metrics.Metrics) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go srv.Serve(ln)
	return srv, nil
}
