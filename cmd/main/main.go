package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"token-observer/src/config"
	datasource "token-observer/src/data_source"
	"token-observer/src/helpers"
	"token-observer/src/interfaces"
	"token-observer/src/logger"
	"token-observer/src/models"
	"token-observer/src/network"
	"token-observer/src/query"
	"token-observer/src/server"
	"token-observer/src/storage"
	"token-observer/src/watcher"
)

// -----------------------------------------------------------------------------

func main() {

	// Parse command line flags
	configPath := flag.String("config", "../../config/default.yaml", "path to config file")
	flag.Parse()

	// Load config from YAML file
	config, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	appLogger := logger.NewLogger(config.LogLevel, config.Name)

	// 2. Setup Storage
	var store interfaces.ITokenStore

	switch config.Storage.DBType {
	case "postgres":
		store, err = storage.NewPostgresTokenStore(config.MConfig, appLogger)
	default:
		// Default to SQLite
		store, err = storage.NewSQLiteTokenStore(config.MConfig, appLogger)
	}

	if err != nil {
		appLogger.Critical("Failed to init store: %v", err)
	}

	// The database may still be coming up at boot, retry before giving up
	if _, err := helpers.RetryWithBackoff("database init", 3, 2*time.Second, func() (interface{}, error) {
		return nil, store.Initialize()
	}); err != nil {
		appLogger.Critical("Failed to migrate store: %v", err)
	}
	defer store.Close()

	// 3. Setup Components
	snapshot := query.NewSnapshotService(store, appLogger)
	var srv interfaces.IDataExchanger = server.NewSyncServer(config.MConfig, appLogger, snapshot)
	feed := watcher.NewChangeFeed(store, appLogger)

	// 4. Start Server (push hub + pull REST endpoints)
	go func() {
		if err := srv.Start(); err != nil {
			appLogger.Error("Server failed: %v", err)
		}
	}()

	// 5. ChangeFeed Watcher: store notifications -> normalized events
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wrapWg := &sync.WaitGroup{}
	feed.Start(ctx, wrapWg)

	// 6. Fan events out to every live subscriber
	go srv.Run(ctx, feed.Events())

	// 7. Upstream feed (optional): fetched batches land in the store, whose
	// notifications drive the changefeed end to end
	updatesChan := make(chan []models.MToken, 16)

	if config.Feed.URL != "" {
		var networkManager interfaces.INetworkManager = network.NewAsyncNetworkManager(config.MConfig, appLogger)
		var source interfaces.ITokenFeed = datasource.NewHTTPTokenFeed(config.MConfig, networkManager)
		if err := source.Start(ctx, updatesChan, wrapWg); err != nil {
			appLogger.Critical("Failed to start feed: %v", err)
		}
	} else {
		appLogger.Info("No feed URL configured, serving stored data only")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	appLogger.Info("Starting data loop (Push Model)...")

	for {
		select {
		case updates, ok := <-updatesChan:
			if !ok {
				appLogger.Info("Feed closed channel.")
				return
			}

			appLogger.Info("Received update for %d tokens", len(updates))

			for _, token := range updates {
				if err := store.UpsertToken(token); err != nil {
					appLogger.Error("Failed to save token %s: %v", token.Address, err)
				}
			}

			// Retention cleanup
			if err := store.CleanupOldData(); err != nil {
				appLogger.Error("Cleanup failed: %v", err)
			}

		case <-quit:
			appLogger.Info("Shutting down...")
			srv.Stop()
			cancel()      // Signal watcher and feed to stop
			wrapWg.Wait() // Wait for them to close
			return
		}
	}
}
