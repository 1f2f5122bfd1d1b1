// termhost runs next to the shell: it registers with the relay, then
// bridges paired clients to a local terminal session.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rtx/termrelay/pkg/bridge"
	"github.com/rtx/termrelay/pkg/config"
	"github.com/rtx/termrelay/pkg/device"
	"github.com/rtx/termrelay/pkg/ids"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "termhost",
		Short:         "Host-side terminal session bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	defaultConfig := ""
	if home, err := os.UserHomeDir(); err == nil {
		defaultConfig = filepath.Join(home, ".termrelay", "host.yaml")
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "path to configuration file")

	root.AddCommand(newRunCmd(&configPath))
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	var (
		relayURL     string
		hostID       string
		tok          string
		shell        string
		autoRegister bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Register with the relay and serve terminal sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadHost(*configPath)
			if err != nil {
				return err
			}
			if relayURL != "" {
				cfg.RelayURL = relayURL
			}
			if hostID != "" {
				cfg.HostID = hostID
			}
			if tok != "" {
				cfg.Token = tok
			}
			if shell != "" {
				cfg.Shell = shell
			}
			if cmd.Flags().Changed("auto-register") {
				cfg.AutoRegister = autoRegister
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&relayURL, "relay", "", "relay websocket URL")
	cmd.Flags().StringVar(&hostID, "host-id", "", "host identifier (generated when empty)")
	cmd.Flags().StringVar(&tok, "token", "", "registration token")
	cmd.Flags().StringVar(&shell, "shell", "", "shell command for allocated sessions")
	cmd.Flags().BoolVar(&autoRegister, "auto-register", false, "admit unknown device keys on first contact")
	return cmd
}

func run(ctx context.Context, cfg config.Host) error {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	if cfg.Token == "" {
		return errors.New("registration token not set (config token or TERMRELAY_TOKEN)")
	}
	if cfg.HostID == "" {
		cfg.HostID = ids.HostID()
		log.WithField("host_id", cfg.HostID).Info("generated host id")
	}

	devices, err := device.Open(cfg.DeviceStorePath)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"store":   cfg.DeviceStorePath,
		"devices": devices.Len(),
	}).Info("device registry loaded")

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b := bridge.New(bridge.Config{
		Shell:          cfg.Shell,
		Cols:           cfg.Cols,
		Rows:           cfg.Rows,
		AttachPriority: cfg.AttachPriority,
		PollInterval:   cfg.AttachPoll(),
		AutoRegister:   cfg.AutoRegister,
	}, devices, log)

	return b.RunHost(ctx, cfg.RelayURL, cfg.HostID, cfg.Token)
}
