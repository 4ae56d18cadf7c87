package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/janus/am"
	"github.com/teranos/janus/db"
	"github.com/teranos/janus/errors"
	"github.com/teranos/janus/host"
	"github.com/teranos/janus/journal"
	"github.com/teranos/janus/logger"
	"github.com/teranos/janus/metrics"
	"github.com/teranos/janus/native"
	"github.com/teranos/janus/server"
	"github.com/teranos/janus/surface/cdp"
)

// ServeCmd starts the host and its API
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the janus host and HTTP/WebSocket API",
	Long: `Connect to a browser over the DevTools protocol, start the consent host and
serve its API. Surfaces are created through POST /api/surfaces.

The browser must be started with remote debugging enabled, for example:
  chromium --remote-debugging-port=9222

and browser.devtools_url (or JANUS_BROWSER_DEVTOOLS_URL) set to the browser
websocket URL reported at http://127.0.0.1:9222/json/version.`,
	RunE: runServe,
}

var (
	serveDevTools string
	serveListen   bool
	serveJournal  bool
)

func init() {
	ServeCmd.Flags().StringVar(&serveDevTools, "devtools", "", "Browser DevTools websocket URL (overrides config)")
	ServeCmd.Flags().BoolVar(&serveListen, "listen", true, "Listen for native consent events on start")
	ServeCmd.Flags().BoolVar(&serveJournal, "journal", false, "Journal events to sqlite (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	verbosity, _ := cmd.Flags().GetCount("verbose")
	if verbosity == 0 {
		verbosity = logger.VerbosityInfo
	}
	logger.SetVerbosity(verbosity)

	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if serveDevTools != "" {
		cfg.Browser.DevToolsURL = serveDevTools
	}
	if cmd.Flags().Changed("journal") {
		cfg.Journal.Enabled = serveJournal
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	if cfg.Browser.DevToolsURL == "" {
		return errors.WithHint(
			errors.New("no browser to drive surfaces"),
			"set browser.devtools_url, JANUS_BROWSER_DEVTOOLS_URL or --devtools")
	}

	if cfg.Log.HTTPEndpoint != "" {
		shipper := logger.AttachHTTP(logger.HTTPConfig{
			Endpoint:      cfg.Log.HTTPEndpoint,
			Token:         cfg.Log.HTTPToken,
			Source:        cfg.Log.HTTPSource,
			ConsoleErrors: cfg.Log.ConsoleErrors,
			BatchSize:     cfg.Log.BatchSize,
			FlushInterval: cfg.GetFlushInterval(),
		})
		defer shipper.Close()
	}
	log := logger.ComponentLogger("serve")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	browser, err := cdp.Dial(ctx, cfg.Browser.DevToolsURL, cdp.Options{
		DialTimeout: cfg.GetDialTimeout(),
		Logger:      logger.ComponentLogger("cdp"),
		Trace:       logger.ShouldLogTrace(verbosity),
	})
	if err != nil {
		return errors.Wrap(err, "failed to connect to browser")
	}
	defer browser.Close()

	var store *journal.Store
	sessionDB := ""
	if cfg.Journal.Enabled {
		conn, err := db.OpenWithMigrations(cfg.GetJournalPath(), log.Named("db"))
		if err != nil {
			return errors.Wrap(err, "failed to open journal")
		}
		defer conn.Close()
		sessionDB = cfg.GetJournalPath()
		// the host stamps its own session id on every entry
		store = journal.NewStore(conn, "")
		if keep := cfg.GetJournalRetention(); keep > 0 {
			n, err := store.Prune(ctx, time.Now().Add(-keep))
			if err != nil {
				log.Warnw("Journal prune failed", logger.FieldError, err)
			} else if n > 0 {
				log.Infow("Pruned journal", logger.FieldCount, n)
			}
		}
	}

	h := host.New(host.Config{
		Channel:        cfg.GetChannel(),
		DestinationURL: cfg.GetDestinationURL(),
		QueryTimeout:   cfg.GetQueryTimeout(),
		Listen:         serveListen,
	}, host.Deps{
		Factory: browser,
		SDK:     native.NewMemory(cfg.Native.Purposes, cfg.Native.FidesString),
		Journal: store,
		Metrics: metrics.New(),
		Logger:  logger.ComponentLogger("host"),
	})
	if err := h.Run(ctx); err != nil {
		return errors.Wrap(err, "failed to start host")
	}
	defer h.Close()

	stopWatcher := watchConfig(h, log)
	defer stopWatcher()

	srv := server.New(h, server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.GetServerPort()),
		AllowedOrigins:  cfg.GetServerAllowedOrigins(),
		CreatePerMinute: cfg.Server.CreatePerMinute,
		AutoSyncDefault: cfg.Bridge.AutoSyncDefault,
	}, logger.ComponentLogger("server"))

	printStartupBanner(verbosity, cfg, h.SessionID(), sessionDB)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		return errors.Wrap(err, "server stopped")
	case <-browser.Done():
		pterm.Warning.Println("Browser connection lost, shutting down")
	case <-ctx.Done():
		pterm.Info.Println("\nShutting down gracefully...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown error")
	}
	h.Close()
	pterm.Success.Println("janus stopped cleanly")
	return nil
}

// watchConfig applies a changed destination URL to the running host.
// It returns a func that stops watching.
func watchConfig(h *host.Host, log *zap.SugaredLogger) func() {
	path := am.ActiveConfigPath()
	if path == "" {
		return func() {}
	}
	watcher, err := am.NewWatcher(path)
	if err != nil {
		log.Warnw("Config hot reload disabled", logger.FieldError, err)
		return func() {}
	}
	watcher.OnReload(func(cfg *am.Config) error {
		if url := cfg.GetDestinationURL(); url != h.Destination() {
			h.SetDestination(url)
		}
		return nil
	})
	watcher.Start()
	am.SetActiveWatcher(watcher)
	log.Infow("Watching config", "path", path)
	return func() { _ = watcher.Stop() }
}
