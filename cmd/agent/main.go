package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"wg-mesh/pkg/agent"
	"wg-mesh/pkg/auth"
	"wg-mesh/pkg/config"
	"wg-mesh/pkg/logging"
	"wg-mesh/pkg/model"
	"wg-mesh/pkg/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.DefaultAgent()
	if host, err := os.Hostname(); err == nil {
		cfg.UID = host
	}
	var configPath, envFile string

	root := &cobra.Command{
		Use:           "agent",
		Short:         "Registers this host with the coordinator and keeps its WireGuard config converged",
		Version:       version.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := config.Overlay(cmd.Flags(), func() error {
				if err := config.LoadFile(configPath, &cfg); err != nil {
					return err
				}
				if err := config.LoadDotEnv(envFile); err != nil {
					return err
				}
				return cfg.ApplyEnv()
			})
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	f := root.Flags()
	f.StringVar(&configPath, "config", "", "YAML config file")
	f.StringVar(&envFile, "env-file", ".env", "dotenv file with WGMESH_* variables")
	f.StringVar(&cfg.Server, "server", cfg.Server, "coordinator host")
	f.IntVar(&cfg.Port, "port", cfg.Port, "coordinator port")
	f.StringVar(&cfg.Scheme, "scheme", cfg.Scheme, "coordinator scheme: http|https")
	f.BoolVar(&cfg.Insecure, "insecure", cfg.Insecure, "skip TLS verification of the coordinator")
	f.StringVar(&cfg.CAFile, "ca", cfg.CAFile, "CA file for coordinator TLS")
	f.StringVar(&cfg.CertFile, "cert", cfg.CertFile, "client TLS certificate (mTLS)")
	f.StringVar(&cfg.KeyFileTLS, "tls-key", cfg.KeyFileTLS, "client TLS key (mTLS)")
	f.StringVar(&cfg.Role, "role", cfg.Role, "node role: master|slave")
	f.StringVar(&cfg.UID, "uid", cfg.UID, "node uid (defaults to the hostname)")
	f.StringVar(&cfg.Interface, "interface", cfg.Interface, "WireGuard interface name")
	f.DurationVar(&cfg.Interval, "interval", cfg.Interval, "sync interval")
	f.StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "public endpoint host of the master")
	f.IntVar(&cfg.EndpointPort, "endpoint-port", cfg.EndpointPort, "public endpoint port of the master")
	f.StringVar(&cfg.STUNServer, "stun-server", cfg.STUNServer, "discover the master endpoint host via this STUN server")
	f.StringVar(&cfg.ConfigDir, "config-dir", cfg.ConfigDir, "directory holding <interface>.conf")
	f.StringVar(&cfg.ApplyMode, "apply-mode", cfg.ApplyMode, "how to apply a new config: systemd|syncconf")
	f.DurationVar(&cfg.ProbeInterval, "probe-interval", cfg.ProbeInterval, "slave reachability probe interval; 0 disables")
	f.StringVar(&cfg.HistoryDB, "history-db", cfg.HistoryDB, "sqlite apply ledger; empty disables")
	f.BoolVar(&cfg.Watch, "watch", cfg.Watch, "follow the coordinator change feed")
	f.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "per-request timeout")
	f.DurationVar(&cfg.ApplyTimeout, "apply-timeout", cfg.ApplyTimeout, "apply command timeout")
	f.StringVar(&cfg.Key, "key", cfg.Key, "shared secret (overrides --key-file)")
	f.StringVar(&cfg.KeyFile, "key-file", cfg.KeyFile, "file holding the shared secret")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	f.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "also append logs to this file")
	return root
}

func run(ctx context.Context, cfg config.Agent) error {
	log, closeLog, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()

	key := cfg.Key
	if key == "" {
		if key, err = auth.ReadKeyFile(cfg.KeyFile); err != nil {
			return err
		}
	}

	hc, err := agent.BuildHTTPClient(agent.TLSOptions{
		CAFile:   cfg.CAFile,
		CertFile: cfg.CertFile,
		KeyFile:  cfg.KeyFileTLS,
		Insecure: cfg.Insecure,
	}, cfg.RequestTimeout)
	if err != nil {
		return fmt.Errorf("http client build failed: %w", err)
	}
	client := agent.NewClient(cfg.BaseURL(), hc, key)

	role := model.Role(cfg.Role)
	endpoint := cfg.MasterEndpoint()
	if role == model.RoleMaster && endpoint == "" {
		endpoint, err = agent.DiscoverEndpoint(ctx, cfg.STUNServer, cfg.EndpointPort)
		if err != nil {
			return fmt.Errorf("discover endpoint: %w", err)
		}
		log.WithField("endpoint", endpoint).Info("endpoint discovered via stun")
	}

	applier, err := agent.NewApplier(cfg.ApplyMode)
	if err != nil {
		return err
	}
	file := agent.NewConfigFile(cfg.ConfigDir, cfg.Interface)

	var history agent.Recorder
	if cfg.HistoryDB != "" {
		h, err := agent.OpenHistory(ctx, cfg.HistoryDB)
		if err != nil {
			log.WithError(err).Warn("apply ledger disabled")
		} else {
			defer h.Close()
			history = h
		}
	}

	a, err := agent.New(agent.Options{
		Role:         role,
		UID:          cfg.UID,
		Interface:    cfg.Interface,
		Endpoint:     endpoint,
		Interval:     cfg.Interval,
		ApplyTimeout: cfg.ApplyTimeout,
		Coordinator:  client,
		Config:       file,
		Applier:      applier,
		History:      history,
		Logger:       log,
	})
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"server":    cfg.BaseURL(),
		"role":      role,
		"uid":       cfg.UID,
		"interface": cfg.Interface,
		"version":   version.String(),
	}).Info("agent starting")
	if err := a.Register(ctx); err != nil {
		return err
	}

	if role == model.RoleSlave {
		agent.NewProber(cfg.BaseURL(), file, cfg.Interface, cfg.ProbeInterval, log).Start(ctx)
	}
	if cfg.Watch {
		var tlsCfg *tls.Config
		if t, ok := hc.Transport.(*http.Transport); ok {
			tlsCfg = t.TLSClientConfig
		}
		w, err := agent.NewWatcher(cfg.BaseURL(), key, tlsCfg, log)
		if err != nil {
			return err
		}
		go w.Run(ctx, func(v uint64) {
			log.WithField("version", v).Debug("registry changed")
			a.Nudge()
		})
	}

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("agent stopped")
	return nil
}
