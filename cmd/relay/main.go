package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"peer-relay/pkg/api"
	"peer-relay/pkg/auth"
	"peer-relay/pkg/bridge"
	"peer-relay/pkg/config"
	"peer-relay/pkg/logging"
	"peer-relay/pkg/metrics"
	"peer-relay/pkg/relay"
	"peer-relay/pkg/transport"
	"peer-relay/pkg/version"
)

func main() {
	configPath := flag.String("config", os.Getenv("RELAY_CONFIG"), "YAML config file (env RELAY_CONFIG)")
	addr := flag.String("addr", "", "listen address, overrides config and RELAY_LISTEN")
	name := flag.String("name", "", "relay name, overrides config and RELAY_NAME")
	region := flag.String("region", "", "relay region, overrides config and RELAY_REGION")
	peersFrom := flag.String("peers-from", "config", "bridge peer source: config|consul (consul requires build tag consul)")
	issueToken := flag.String("issue-token", "", "print a status API token for this subject and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of -issue-token tokens")
	showVersion := flag.Bool("v", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("relay"))
		return
	}

	cfg, err := config.Load(*configPath, func(c *config.Config) {
		if *addr != "" {
			c.Listen = *addr
		}
		if *name != "" {
			c.Relay.Name = *name
		}
		if *region != "" {
			c.Relay.Region = *region
		}
	})
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.Setup(cfg.Relay.Name, cfg.LogLevel)

	if *issueToken != "" {
		signer, err := auth.NewSigner(cfg.Relay.Name, cfg.Status.Secret)
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		tok, err := signer.Generate(*issueToken, *tokenTTL)
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		fmt.Println(tok)
		return
	}

	peers := cfg.Bridges.Peers
	switch *peersFrom {
	case "config":
	case "consul":
		if peers, err = config.ConsulPeers(cfg.Consul); err != nil {
			log.Fatalf("load bridge peers from consul: %v", err)
		}
	default:
		log.Fatalf("unsupported peer source: %s", *peersFrom)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	svc := relay.New(relay.Options{
		Name:              cfg.Relay.Name,
		Region:            cfg.Relay.Region,
		SweepInterval:     cfg.Liveness.SweepInterval,
		NodeTimeout:       cfg.Liveness.NodeTimeout,
		HeartbeatInterval: cfg.Bridges.HeartbeatInterval,
		Logger:            logger,
		Metrics:           m,
	})

	bridgePeers := make([]bridge.Peer, 0, len(peers))
	for _, p := range peers {
		bridgePeers = append(bridgePeers, bridge.Peer{Name: p.Name, URL: p.URL(), Enabled: p.Enabled})
	}
	mgr := bridge.NewManager(bridge.ManagerConfig{
		Self:              cfg.Relay.Name,
		Region:            cfg.Relay.Region,
		Peers:             bridgePeers,
		ReconnectInterval: cfg.Bridges.ReconnectInterval,
		Logger:            logger,
		Metrics:           m,
	}, svc)

	var tokens api.TokenParser
	if cfg.Status.Auth {
		signer, err := auth.NewSigner(cfg.Relay.Name, cfg.Status.Secret)
		if err != nil {
			log.Fatalf("status auth: %v", err)
		}
		tokens = signer
	}

	socket := transport.NewServer(svc, "peer-relay "+cfg.Relay.Name, logger)
	mux := http.NewServeMux()
	api.RegisterRoutes(mux, api.Deps{
		Relay:   svc,
		Bridges: mgr,
		Tokens:  tokens,
		Socket:  socket,
		Build:   version.Build,
		Logger:  logger,
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// Binding is the one fatal startup step.
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		log.Fatalf("listen %s: %v", cfg.Listen, err)
	}
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if cfg.TLS.Enabled() {
		tlsCfg, err := api.ServerTLSConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.ClientCA)
		if err != nil {
			log.Fatalf("failed to build TLS config: %v", err)
		}
		srv.TLSConfig = tlsCfg
		ln = tls.NewListener(ln, tlsCfg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })
	g.Go(func() error { return mgr.Run(gctx) })
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	logger.Info("relay listening", "addr", ln.Addr().String(), "region", cfg.Relay.Region, "bridgePeers", len(bridgePeers), "tls", cfg.TLS.Enabled(), "build", version.Build)
	err = g.Wait()

	// Clients only see serverShutdown once their write queues are flushed.
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if werr := socket.Wait(flushCtx); werr != nil {
		logger.Warn("connections still open at exit", "err", werr)
	}
	if err != nil {
		logger.Error("relay stopped with error", "err", err)
		os.Exit(1)
	}
	logger.Info("relay stopped")
}
