// termrelay is the relay broker: it pairs remote clients with registered
// hosts over WebSocket and forwards session traffic between them.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rtx/termrelay/pkg/config"
	"github.com/rtx/termrelay/pkg/relay"
	"github.com/rtx/termrelay/pkg/token"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "termrelay",
		Short:         "Relay broker for remote terminal sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		// Bare invocation serves, same as the explicit serve subcommand.
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadRelay(configPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to configuration file")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newGenTokenCmd(&configPath))
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadRelay(*configPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func newGenTokenCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "gen-token <host_id:device_key>",
		Short: "Generate a connect token valid for 5 minutes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadRelay(*configPath)
			if err != nil {
				return err
			}
			hostID, deviceKey, ok := strings.Cut(args[0], ":")
			if !ok || hostID == "" || deviceKey == "" {
				return errors.New("invalid format, use: host_id:device_key")
			}
			tok, err := token.NewIssuer(cfg.SigningSecret).Mint(hostID, deviceKey)
			if err != nil {
				return fmt.Errorf("generate token: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Connect token: %s\n", tok)
			fmt.Fprintf(cmd.OutOrStdout(), "Valid for %s\n", token.TTL)
			return nil
		},
	}
}

func serve(cfg config.Relay) error {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	broker := relay.NewBroker(cfg, token.NewIssuer(cfg.SigningSecret), log)

	mux := http.NewServeMux()
	broker.Routes(mux)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  cfg.ConnTimeout(),
		WriteTimeout: cfg.ConnTimeout(),
		IdleTimeout:  2 * cfg.ConnTimeout(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("starting relay server")
		var err error
		if cfg.TLSCertPath != "" && cfg.TLSKeyPath != "" {
			err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			log.Warn("TLS material not configured, serving plaintext")
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server shutdown error")
	}
	log.Info("server stopped")
	return nil
}
