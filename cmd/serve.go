package cmd

import (
	"context"
	"flag"
	"fmt"

	"kiro-relay/internal/credential"
	"kiro-relay/internal/logging"
	"kiro-relay/internal/metrics"
	"kiro-relay/internal/proxy"
	"kiro-relay/internal/server"
	"kiro-relay/internal/transport"
	"kiro-relay/internal/upstream"
)

const serveUsage = `Usage:
  kiro-relay serve --config <path> [--port <port>]

Flags:
  --config string   Path to YAML configuration file (required)
  --port   int      Override server port from configuration`

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)

	var cfgPath string
	var overridePort int
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.IntVar(&overridePort, "port", 0, "override server port")

	if help, err := parseFlags(fs, args, serveUsage); help || err != nil {
		return err
	}

	a, err := openApp(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg, logger := a.cfg, a.logger
	if overridePort != 0 {
		if overridePort < 0 || overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
		}
		cfg.Server.Port = overridePort
	}

	catalog, err := cfg.Models.Catalog()
	if err != nil {
		return err
	}

	gate := credential.NewGate(a.store, cfg.Upstream.Endpoints(),
		credential.WithHTTPClient(transport.NewHTTPClient(cfg.Upstream.RefreshTimeout)),
		credential.WithLogger(logging.WithComponent(logger, "credential")),
	)
	client, err := upstream.New(cfg.Upstream.UpstreamClientConfig(), nil)
	if err != nil {
		return err
	}

	m := metrics.New()
	orch, err := proxy.New(proxy.Config{
		Gate:     gate,
		Upstream: client,
		Catalog:  catalog,
		UsageLog: a.store,
		Counter:  a.store,
		Metrics:  m,
		Logger:   logging.WithComponent(logger, "proxy"),
	})
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, server.Deps{
		Proxy:   orch,
		Catalog: catalog,
		APIKeys: a.store,
		Health:  a.store,
		Metrics: m,
		Logger:  logging.WithComponent(logger, "server"),
	})
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}
