package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/ingestion-agent/internal/api"
	"github.com/ingestion-agent/internal/config"
	"github.com/ingestion-agent/internal/destination/jsonfile"
	"github.com/ingestion-agent/internal/events"
	"github.com/ingestion-agent/internal/manager"
	"github.com/ingestion-agent/internal/models"
	"github.com/ingestion-agent/internal/plugin"
	"github.com/ingestion-agent/internal/provider"
	providerdrive "github.com/ingestion-agent/internal/provider/drive"
	providergithub "github.com/ingestion-agent/internal/provider/github"
	"github.com/ingestion-agent/internal/source/httpcrawl"
	"github.com/ingestion-agent/internal/store"
	"github.com/ingestion-agent/internal/store/memory"
	"github.com/ingestion-agent/internal/store/sqlite"
	"github.com/ingestion-agent/internal/transform"
	"github.com/ingestion-agent/pkg/logger"
	"github.com/ingestion-agent/pkg/ratelimit"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ingestor",
		Short: "Ingestion lifecycle manager",
		Long: `Control plane for ingestion tasks: schedules cron runs, receives
webhooks and drives each task through its source/transform/destination
pipeline.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			log = logger.New(logger.Config{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				Output: cfg.Logging.Output,
			})
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.AddCommand(serveCmd(), taskCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and cron tick loop",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	log.Info().Msg("Starting ingestion agent")

	mgr, st, err := buildManager()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := mgr.Init(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	mgr.Start()

	// HTTP surface
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	api.New(mgr, log).RegisterRoutes(router)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Internal tick loop; deployments with an external scheduler disable
	// this and POST /api/v1/cron/tick instead
	var ticker *cron.Cron
	if !cfg.Scheduler.DisableTickLoop {
		ticker = cron.New(cron.WithLogger(cronLogger{log}))
		_, err = ticker.AddFunc(cfg.Scheduler.TickCron, func() {
			if _, err := mgr.TriggerAllEnabledCronTasks(context.Background()); err != nil {
				log.Error().Err(err).Msg("Cron tick failed")
			}
		})
		if err != nil {
			return fmt.Errorf("failed to schedule tick loop: %w", err)
		}
		ticker.Start()
		log.Info().Str("cron", cfg.Scheduler.TickCron).Msg("Tick loop scheduled")
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down")
	if ticker != nil {
		ticker.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}
	mgr.Stop()
	return nil
}

func taskCmd() *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks from the command line",
	}

	taskCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, st, err := buildManager()
			if err != nil {
				return err
			}
			defer st.Close()
			if err := mgr.Init(); err != nil {
				return err
			}

			tasks, err := mgr.ListTasks(cmd.Context())
			if err != nil {
				return err
			}
			for _, t := range tasks {
				fmt.Printf("%s  %-24s  %-8s  enabled=%v  status=%s\n",
					t.ID, t.Name, t.Trigger.Type, t.Enabled, t.CurrentStatus)
			}
			return nil
		},
	})

	taskCmd.AddCommand(&cobra.Command{
		Use:   "add <definition.json>",
		Short: "Schedule a task from a JSON definition file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var task models.Task
			if err := json.Unmarshal(data, &task); err != nil {
				return fmt.Errorf("invalid task definition: %w", err)
			}

			mgr, st, err := buildManager()
			if err != nil {
				return err
			}
			defer st.Close()
			if err := mgr.Init(); err != nil {
				return err
			}

			created, err := mgr.ScheduleTask(cmd.Context(), &task)
			if err != nil {
				return err
			}
			fmt.Printf("scheduled %s\n", created.ID)
			return nil
		},
	})

	taskCmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task (deregistering its webhook if any)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, st, err := buildManager()
			if err != nil {
				return err
			}
			defer st.Close()
			if err := mgr.Init(); err != nil {
				return err
			}
			return mgr.DeleteTask(cmd.Context(), args[0])
		},
	})

	return taskCmd
}

// buildManager wires the store, plugin registry, providers and event bus
func buildManager() (*manager.Manager, store.Store, error) {
	var st store.Store
	var err error
	if cfg.Database.Driver == "memory" {
		st = memory.New()
	} else {
		st, err = sqlite.New(cfg.Database.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
	}

	limiter := ratelimit.NewDefaultLimiter()

	plugins := plugin.NewRegistry()
	plugins.RegisterSource(models.PluginHTTPCrawler,
		func(conf models.JSON, log *logger.Logger) (plugin.Source, error) {
			return httpcrawl.New(conf, cfg.Sources.HTTP, limiter, log), nil
		},
		transform.Default,
	)
	plugins.RegisterDestination("jsonfile",
		func(conf models.JSON, log *logger.Logger) (plugin.Destination, error) {
			return jsonfile.New(conf, log)
		},
	)

	providers := provider.NewRegistry()
	if cfg.Providers.GitHub.BaseURL != "" {
		providers.Register(models.PluginGitCrawler,
			providergithub.NewWithBaseURL(cfg.Providers.GitHub.BaseURL, cfg.Providers.GitHub.Token, limiter, log))
	} else {
		providers.Register(models.PluginGitCrawler,
			providergithub.New(cfg.Providers.GitHub.Token, limiter, log))
	}
	providers.Register(models.PluginDriveCrawler,
		providerdrive.New(cfg.Providers.GoogleDrive.AccessToken, limiter, log))

	bus := events.NewBus(log)
	auditLog := log.WithComponent("lifecycle")
	bus.Subscribe(func(e events.Event) {
		auditLog.Debug().
			Str("event", string(e.Type)).
			Str("task_id", e.TaskID).
			Msg("Lifecycle event")
	})

	mgr := manager.New(st, providers, plugins, bus, log, manager.Options{
		CronWindow: time.Duration(cfg.Scheduler.CronWindowSecs) * time.Second,
	})
	return mgr, st, nil
}

// cronLogger adapts our logger for cron
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Info().Msgf(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Msgf(msg, keysAndValues...)
}
