package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/armature/armature/internal/apiserver"
	"github.com/armature/armature/internal/config"
	"github.com/armature/armature/internal/deployment"
	"github.com/armature/armature/internal/events"
	"github.com/armature/armature/internal/gateway"
	"github.com/armature/armature/internal/history"
	"github.com/armature/armature/internal/interfaces"
	"github.com/armature/armature/internal/logging"
	"github.com/armature/armature/internal/metrics"
	"github.com/armature/armature/internal/monitor"
	"github.com/armature/armature/internal/registry"
	"github.com/armature/armature/internal/templates"
)

const shutdownTimeout = 10 * time.Second

func newServerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Manage the Armature API server",
	}

	cmd.AddCommand(
		newServerStartCommand(),
		newServerStopCommand(),
		newServerStatusCommand(),
	)
	return cmd
}

func newServerStartCommand() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the API server",
		Long:  "Start the API server in the foreground, monitoring deployments until interrupted",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServer(port)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (overrides ARMATURE_PORT)")
	return cmd
}

func newServerStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := stopServer(pidFilePath()); err != nil {
				return err
			}
			cmd.Println("Server stopped")
			return nil
		},
	}
}

func newServerStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the API server is running",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pid, err := readPIDFromFile(pidFilePath())
			if err != nil || !isProcessRunning(pid) {
				cmd.Println("Server is not running")
				return nil
			}

			cmd.Printf("Server is running (PID %d)\n", pid)

			cfg, err := loadStandardConfig()
			if err != nil {
				return err
			}
			if err := checkServerHealth(cfg.Port); err != nil {
				cmd.Printf("Health check failed: %v\n", err)
				return nil
			}
			cmd.Println("Health check passed")
			return nil
		},
	}
}

//nolint:funlen,gocyclo // Server initialization wires every subsystem in one place
func runServer(port int) error {
	config.AppVersion = version
	logger := logging.NewLogger("server")

	cfg := config.NewServerConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		return fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.ExpandPaths(); err != nil {
		return fmt.Errorf("failed to expand paths: %w", err)
	}
	if port != 0 {
		cfg.Port = port
	}
	if debugMode {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	pidFile := pidFilePath()
	if err := savePID(os.Getpid(), pidFile); err != nil {
		return err
	}
	defer removePIDFile(pidFile)

	logger.Infof("Starting Armature server v%s", version)
	logger.Infof("Configuration:")
	logger.Infof("  Port: %d", cfg.Port)
	logger.Infof("  Debug: %t", cfg.Debug)
	logger.Infof("  Template Dir: %s", cfg.TemplateDir)
	logger.Infof("  History Store: %s", cfg.History.Type)
	logger.Infof("  Gateway Region: %s", cfg.Gateway.Region)

	gw, err := gateway.NewCloudFormationGateway(gateway.Config{
		Region:   cfg.Gateway.Region,
		Endpoint: cfg.Gateway.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to create provider gateway: %w", err)
	}

	store, err := createHistoryStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to create history store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warnf("Failed to close history store: %v", err)
		}
	}()

	resolver, err := templates.NewFileResolver(cfg.TemplateDir)
	if err != nil {
		return fmt.Errorf("failed to create template resolver: %w", err)
	}

	reg := registry.New()
	bus := events.NewBus()
	defer bus.Close()
	collector := metrics.NewCollector()

	mon := monitor.New(monitor.Config{
		Gateway:        gw,
		Registry:       reg,
		History:        store,
		Bus:            bus,
		Metrics:        collector,
		PollInterval:   cfg.PollInterval(),
		HeartbeatEvery: cfg.Poll.HeartbeatEvery,
		MaxConcurrent:  cfg.Poll.MaxConcurrent,
	})

	var rec *monitor.Reconciler
	if cfg.Reconcile.Enabled {
		rec = monitor.NewReconciler(monitor.ReconcilerConfig{
			Gateway:      gw,
			Registry:     reg,
			Metrics:      collector,
			ScanInterval: cfg.ReconcileInterval(),
			MaxBackoff:   cfg.ReconcileMaxBackoff(),
		})
		if err := rec.Start(context.Background()); err != nil {
			return fmt.Errorf("failed to start reconciler: %w", err)
		}
		defer rec.Stop()
		logger.Infof("Reconciler enabled (interval: %s)", cfg.ReconcileInterval())
	}

	if cfg.Notifier.RedisURL != "" {
		notifier, err := events.NewRedisNotifier(context.Background(), cfg.Notifier.RedisURL, cfg.Notifier.Channel)
		if err != nil {
			return fmt.Errorf("failed to connect redis notifier: %w", err)
		}
		notifier.Start(bus)
		defer notifier.Stop()
		logger.Infof("Redis notifier enabled (channel: %s)", cfg.Notifier.Channel)
	}

	service, err := deployment.NewServiceWithConfig(deployment.ServiceConfig{
		Gateway:         gw,
		Registry:        reg,
		History:         store,
		Monitor:         mon,
		Reconciler:      rec,
		Templates:       resolver,
		Bus:             bus,
		Metrics:         collector,
		DefaultLocation: cfg.Gateway.Region,
	})
	if err != nil {
		return fmt.Errorf("failed to create deployment service: %w", err)
	}

	server, err := apiserver.NewAPIServer(cfg, apiserver.Components{
		Service:  service,
		Registry: reg,
		History:  store,
		Gateway:  gw,
		Bus:      bus,
		Metrics:  collector,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		mon.Shutdown()
		return nil
	case err := <-errChan:
		return err
	}
}

// createHistoryStore creates the configured history store backend
func createHistoryStore(cfg *config.ServerConfig) (interfaces.HistoryStore, error) {
	switch cfg.History.Type {
	case "aws":
		store, err := history.NewAWSStore(history.AWSStoreConfig{
			DynamoDBTable:  cfg.History.AWS.DynamoDBTable,
			DynamoDBRegion: cfg.History.AWS.DynamoDBRegion,
			S3Bucket:       cfg.History.AWS.S3Bucket,
			S3Region:       cfg.History.AWS.S3Region,
			S3Prefix:       cfg.History.AWS.S3Prefix,
			Endpoint:       cfg.History.AWS.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS history store: %w", err)
		}
		return store, nil
	case "memory":
		return history.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown history store type: %s", cfg.History.Type)
	}
}
