package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/wabridge/internal/config"
	"github.com/danmuck/wabridge/internal/logging"
	"github.com/danmuck/wabridge/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "bridge.toml"

type rootOptions struct {
	configPath string
}

func rootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "bridgectl",
		Short:         "Bridge a browser-automated messaging client to HTTP and MCP",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default ./bridge.toml when present)")

	root.AddCommand(serveCmd(opts), mcpCmd(opts), configCmd(opts))
	return root
}

func serveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
}

func mcpCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureStdio()
			gin.SetMode(gin.ReleaseMode)
			gin.DefaultWriter = os.Stderr

			svc, err := newService(opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return svc.RunMCP(ctx, os.Stdin, os.Stdout)
		},
	}
}

func runServe(opts *rootOptions) error {
	logging.ConfigureRuntime()
	gin.SetMode(gin.ReleaseMode)

	svc, err := newService(opts)
	if err != nil {
		return err
	}
	return svc.Run()
}

func newService(opts *rootOptions) (*service.Service, error) {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	return service.New(cfg, service.WithVersion(version))
}

// loadConfig reads path, or ./bridge.toml when path is empty and the file
// exists, or falls back to defaults.
func loadConfig(path string) (config.Config, error) {
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err != nil {
			return config.Default(), nil
		}
		path = defaultConfigPath
	}
	return config.Load(path)
}
