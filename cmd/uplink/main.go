package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/netsys-lab/multipath-uplink/config"
	"github.com/netsys-lab/multipath-uplink/fix"
	"github.com/netsys-lab/multipath-uplink/mirror"
	"github.com/netsys-lab/multipath-uplink/observability"
	"github.com/netsys-lab/multipath-uplink/pathmon"
	"github.com/netsys-lab/multipath-uplink/retrybuf"
	"github.com/netsys-lab/multipath-uplink/supervisor"
	"github.com/netsys-lab/multipath-uplink/uplink"
)

var configPath = flag.String("c", "/etc/multipath-uplink.conf", "Path to the config file")
var logLevel = flag.String("loglevel", "", "Override the configured log level")

func buildTransport(cfg *config.Config) (uplink.Transport, error) {
	switch cfg.Transport {
	case "tcp":
		return uplink.NewTCPTransport(cfg.RemoteAddr), nil
	case "quic":
		return uplink.NewQUICTransport(cfg.RemoteAddr, nil), nil
	case "scion":
		return uplink.NewSCIONTransport(cfg.RemoteAddr)
	case "ws":
		return uplink.NewWSTransport(cfg.RemoteAddr), nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config %s: %v", *configPath, err)
	}

	levelName := cfg.LogLevel
	if *logLevel != "" {
		levelName = *logLevel
	}
	level, err := log.ParseLevel(levelName)
	if err != nil {
		log.Fatalf("Unknown log level %q", levelName)
	}
	log.SetLevel(level)

	transport, err := buildTransport(cfg)
	if err != nil {
		log.Fatalf("Failed to set up %s transport: %v", cfg.Transport, err)
	}

	collector, err := observability.NewUplinkCollector(nil)
	if err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	paths := make([]pathmon.Path, 0, len(cfg.Paths))
	for _, p := range cfg.Paths {
		paths = append(paths, pathmon.Path{Id: p.Id, LocalAddr: p.LocalAddr})
	}
	probeTarget := cfg.ProbeTarget
	if probeTarget == "" {
		probeTarget = cfg.RemoteAddr
	}
	monitor, err := pathmon.NewMonitor(paths, pathmon.NewTCPProber(probeTarget), collector, &pathmon.MonitorOptions{
		ProbeInterval: cfg.ProbeInterval,
		DownThreshold: cfg.DownThreshold,
	})
	if err != nil {
		// The one fatal configuration error: without paths there is no
		// uplink to run.
		log.Fatalf("Cannot start: %v", err)
	}

	buf := retrybuf.New(cfg.BufferCapacity)
	session := uplink.NewSession(transport, monitor, buf, collector, &uplink.SessionOptions{
		SendTimeout: cfg.SendTimeout,
		BackoffBase: cfg.BackoffBase,
		BackoffCap:  cfg.BackoffCap,
	})

	source := fix.NewGpsdSource(cfg.GpsdAddr)
	if err := source.Restart(); err != nil {
		log.Fatalf("Failed to connect to gpsd at %s: %v", cfg.GpsdAddr, err)
	}

	var onFix func(fix.Fix)
	if cfg.MirrorBroker != "" {
		m, err := mirror.New(cfg.MirrorBroker, "multipath-uplink", cfg.MirrorTopic)
		if err != nil {
			log.Warnf("Mirror disabled, broker unreachable: %v", err)
		} else {
			defer m.Close()
			onFix = m.Publish
		}
	}

	sup := supervisor.New(source, session, &supervisor.Options{
		DrainTimeout: cfg.DrainTimeout,
		OnFix:        onFix,
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(rootCtx)
	defer cancel()

	monitor.Start(ctx)
	session.Start(ctx)
	defer session.Close()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		g.Go(func() error {
			log.Infof("Serving metrics on %s/metrics", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer cancel()
		return sup.Run(gctx)
	})

	// A Next call can sit on the gpsd socket indefinitely; closing the
	// source on shutdown turns it into SourceStopped so the supervisor
	// reaches its drain phase.
	g.Go(func() error {
		<-gctx.Done()
		source.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Errorf("Uplink exited with error: %v", err)
		os.Exit(1)
	}

	m := session.Metrics()
	log.Infof("Uplink terminated, last connection carried %d records (%d bytes)", m.WrittenRecords, m.WrittenBytes)
}
