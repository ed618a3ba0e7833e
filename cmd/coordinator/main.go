package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"wg-mesh/pkg/api"
	"wg-mesh/pkg/auth"
	"wg-mesh/pkg/config"
	"wg-mesh/pkg/keys"
	"wg-mesh/pkg/logging"
	"wg-mesh/pkg/registry"
	"wg-mesh/pkg/store"
	"wg-mesh/pkg/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.DefaultCoordinator()
	var configPath, envFile string

	root := &cobra.Command{
		Use:           "coordinator",
		Short:         "Registers mesh nodes and serves their WireGuard configs",
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
			return serve(ctx, cfg)
		},
	}

	f := root.Flags()
	f.StringVar(&configPath, "config", "", "YAML config file")
	f.StringVar(&envFile, "env-file", ".env", "dotenv file with WGMESH_* variables")
	f.StringVar(&cfg.Listen, "listen", cfg.Listen, "listen address")
	f.StringVar(&cfg.Subnet, "subnet", cfg.Subnet, "mesh subnet; the master always gets the first host address")
	f.IntVar(&cfg.MTU, "mtu", cfg.MTU, "interface MTU")
	f.IntVar(&cfg.Keepalive, "keepalive", cfg.Keepalive, "PersistentKeepAlive seconds for slave peers")
	f.StringVar(&cfg.Interface, "interface", cfg.Interface, "interface name when a request omits it")
	f.StringVar(&cfg.MasterPolicy, "master-policy", cfg.MasterPolicy, "what a second master does: overwrite|reject")
	f.StringVar(&cfg.Key, "key", cfg.Key, "shared secret (overrides --key-file)")
	f.StringVar(&cfg.KeyFile, "key-file", cfg.KeyFile, "file holding the shared secret")
	f.StringVar(&cfg.KeyHash, "key-hash", cfg.KeyHash, "bcrypt hash of the shared secret (see hash-key)")
	f.StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "admin token signing secret; random per process when empty")
	f.DurationVar(&cfg.TokenTTL, "token-ttl", cfg.TokenTTL, "admin token lifetime")
	f.StringVar(&cfg.Store.Backend, "store", cfg.Store.Backend, "registry store: memory|bolt|sqlite|mysql|consul")
	f.StringVar(&cfg.Store.Path, "store-path", cfg.Store.Path, "bolt file or sqlite database")
	f.StringVar(&cfg.Store.DSN, "store-dsn", cfg.Store.DSN, "mysql DSN; built from MYSQL_* env when empty")
	f.StringVar(&cfg.Store.ConsulAddr, "consul-addr", cfg.Store.ConsulAddr, "consul address (store=consul, build tag consul)")
	f.StringVar(&cfg.Store.ConsulToken, "consul-token", cfg.Store.ConsulToken, "consul ACL token")
	f.StringVar(&cfg.TLS.CertFile, "tls-cert", cfg.TLS.CertFile, "TLS cert path (enables HTTPS with --tls-key)")
	f.StringVar(&cfg.TLS.KeyFile, "tls-key", cfg.TLS.KeyFile, "TLS key path")
	f.StringVar(&cfg.TLS.ClientCAFile, "client-ca", cfg.TLS.ClientCAFile, "require client certs signed by this CA")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	f.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "also append logs to this file")

	root.AddCommand(newHashKeyCmd())
	return root
}

func newHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key",
		Short: "Read a shared secret from stdin and print its bcrypt hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read secret: %w", err)
			}
			hash, err := auth.HashSecret(strings.TrimSpace(line))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func serve(ctx context.Context, cfg config.Coordinator) error {
	log, closeLog, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()

	authn, err := authenticator(cfg)
	if err != nil {
		return err
	}
	jwtSecret := []byte(cfg.JWTSecret)
	if len(jwtSecret) == 0 {
		jwtSecret = make([]byte, 32)
		if _, err := rand.Read(jwtSecret); err != nil {
			return fmt.Errorf("generate jwt secret: %w", err)
		}
	}

	st, err := store.Open(store.Options{
		Backend:     cfg.Store.Backend,
		Path:        cfg.Store.Path,
		DSN:         cfg.Store.DSN,
		ConsulAddr:  cfg.Store.ConsulAddr,
		ConsulToken: cfg.Store.ConsulToken,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	hub := api.NewHub(log)
	reg, err := registry.New(registry.Options{
		Subnet:           netip.MustParsePrefix(cfg.Subnet),
		MTU:              cfg.MTU,
		Keepalive:        cfg.Keepalive,
		DefaultInterface: cfg.Interface,
		MasterPolicy:     registry.MasterPolicy(cfg.MasterPolicy),
		Auth:             authn,
		Keys:             keys.WireGuard{},
		Store:            st,
		Logger:           log,
		OnChange:         hub.Broadcast,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.NewServer(reg, auth.NewIssuer(jwtSecret, cfg.TokenTTL), hub, log).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	useTLS := cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != ""
	if useTLS {
		tlsCfg, err := api.ServerTLSConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.ClientCAFile)
		if err != nil {
			return fmt.Errorf("build TLS config: %w", err)
		}
		srv.TLSConfig = tlsCfg
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"listen":  cfg.Listen,
			"subnet":  reg.Subnet(),
			"store":   cfg.Store.Backend,
			"tls":     useTLS,
			"version": version.String(),
		}).Info("coordinator listening")
		if useTLS {
			errCh <- srv.ListenAndServeTLS("", "")
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func authenticator(cfg config.Coordinator) (auth.Authenticator, error) {
	if cfg.KeyHash != "" {
		return auth.NewHashedSecret(cfg.KeyHash)
	}
	secret := cfg.Key
	if secret == "" {
		s, err := auth.ReadKeyFile(cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		secret = s
	}
	return auth.NewSecret(secret)
}
