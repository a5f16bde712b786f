package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/playsafesec/upgradeboard/internal/audit"
	"github.com/playsafesec/upgradeboard/internal/config"
	"github.com/playsafesec/upgradeboard/internal/controlplane"
	"github.com/playsafesec/upgradeboard/internal/inventory"
	"github.com/playsafesec/upgradeboard/internal/logarchive"
	"github.com/playsafesec/upgradeboard/internal/models"
	"github.com/playsafesec/upgradeboard/internal/reconciler"
	"github.com/playsafesec/upgradeboard/internal/session"
	"github.com/playsafesec/upgradeboard/internal/store"
	"github.com/playsafesec/upgradeboard/internal/workflow"
	"github.com/playsafesec/upgradeboard/internal/workflow/github"
	"github.com/playsafesec/upgradeboard/internal/workflow/localfs"
)

var (
	configPath string
	listenAddr string
	dbPath     string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the upgradeboard daemon",
	Long: `Starts the daemon which serves the HTTP API, tracks the upgrade session and
reconciles it against the workflow engine. GitHub is used when GITHUB_TOKEN is set;
otherwise inventories are read from a local checkout and no workflow is dispatched.`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&configPath, "config", "", "Path to config file (default ~/.upgradeboard/config.yaml)")
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides config)")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides config)")
}

func loadDaemonConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
	} else {
		cfg, err = config.LoadConfigFromHome()
	}
	if err != nil {
		return nil, err
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	return cfg, nil
}

// newWorkflowBackend returns the engine and file store for cfg. The engine is
// nil when no workflow engine is configured.
func newWorkflowBackend(ctx context.Context, cfg *config.Config) (workflow.Engine, workflow.FileStore, error) {
	if !cfg.GitHub.Enabled() {
		logrus.Warnf("GITHUB_TOKEN not set; reading inventories from %s and tracking sessions without dispatch", cfg.RepoDir)
		return nil, localfs.New(cfg.RepoDir), nil
	}
	gh, err := github.New(ctx, github.Config{
		Owner:    cfg.GitHub.Owner,
		Repo:     cfg.GitHub.Repo,
		Workflow: cfg.GitHub.Workflow,
		Ref:      cfg.GitHub.Ref,
		Token:    cfg.GitHub.Token,
		BaseURL:  cfg.GitHub.APIURL,
		RetryMax: cfg.GitHub.RetryMax,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("github client: %w", err)
	}
	logrus.Infof("Using GitHub workflow %s/%s %s@%s", cfg.GitHub.Owner, cfg.GitHub.Repo, cfg.GitHub.Workflow, cfg.GitHub.Ref)
	return gh, gh, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadDaemonConfig()
	if err != nil {
		return err
	}
	cfg.ApplyLogLevel()
	logrus.Info("Starting upgradeboard daemon...")

	// Initialize store
	s, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		logrus.Info("Closing database connection...")
		if err := s.Close(); err != nil {
			logrus.Errorf("Database close error: %v", err)
		}
	}()

	sess := session.New(s)
	if err := sess.LoadSavedState(); err != nil {
		logrus.Warnf("Failed to restore saved session: %v (starting fresh)", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engine, files, err := newWorkflowBackend(ctx, cfg)
	if err != nil {
		return err
	}

	inv := inventory.New(files, cfg.Inventory.HostPath, cfg.Inventory.PackagePath)
	hosts, packages := inv.LoadOrSample(ctx)
	sess.SetInventories(hosts, packages)

	archive := logarchive.New(cfg.ArchiveDir, 0)
	pdr := audit.NewPDRWriter(s)

	// Create service and server
	service := controlplane.NewService(s, sess, engine, inv, archive, pdr)
	server := controlplane.NewServer(service, cfg.Listen)

	// The reconciler follows the session: it polls while an upgrade runs.
	if engine != nil {
		rec := reconciler.New(sess, engine, cfg.Reconciler)
		unsubscribe := sess.Subscribe(func(st models.Session) { rec.Sync(st.IsRunning) })
		defer unsubscribe()
		rec.Sync(sess.IsRunning())
		defer rec.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return archive.Watch(gctx)
	})
	g.Go(func() error {
		err := server.Start()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			logrus.Info("Received shutdown signal, initiating graceful shutdown...")
		}

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		logrus.Info("Shutting down HTTP server...")
		if err := server.Shutdown(shutdownCtx); err != nil {
			logrus.Errorf("HTTP server shutdown error: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logrus.Errorf("Daemon error: %v", err)
		return err
	}
	logrus.Info("Shutdown complete")
	return nil
}

