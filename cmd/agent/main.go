package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/graphsnap/graphsnap/internal/capture"
	"github.com/graphsnap/graphsnap/internal/config"
	"github.com/graphsnap/graphsnap/internal/logging"
	"github.com/graphsnap/graphsnap/internal/relay"
	"log/slog"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAgent()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to init logger", "error", err)
		os.Exit(1)
	}

	if len(cfg.Accounts) == 0 {
		logger.Error("WATCH_ACCOUNTS not set, nothing to capture")
		os.Exit(1)
	}

	logger.Info("starting graphsnap agent",
		"store_url", cfg.StoreURL,
		"accounts", cfg.Accounts,
		"poll_interval", cfg.PollInterval,
	)

	storeClient := relay.NewClient(cfg.StoreURL)
	bridge := relay.New(storeClient, logger)

	parser := capture.NewParser(cfg.MaxBatchSize, cfg.MaxRecordPayload, logger)
	interceptor := capture.NewInterceptor(parser, bridge, logger)

	// All page traffic flows through this client; the interceptor taps its
	// transport and passes every response through unchanged.
	pageClient := &http.Client{Timeout: 30 * time.Second}

	pages := relationPages(cfg.Accounts)
	if !bridge.Activate(pages[0], interceptor, pageClient) {
		logger.Error("failed to activate capture", "url", pages[0])
		os.Exit(1)
	}
	defer interceptor.Restore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go pollLoop(ctx, pageClient, bridge, pages, cfg.PollInterval, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info("received shutdown signal", "signal", sig.String())
}

// relationPages expands each watched account into its two relation page URLs.
func relationPages(accounts []string) []string {
	pages := make([]string, 0, len(accounts)*2)
	for _, account := range accounts {
		pages = append(pages,
			fmt.Sprintf("https://x.com/%s/following", account),
			fmt.Sprintf("https://x.com/%s/followers", account),
		)
	}
	return pages
}

// pollLoop visits each relation page on a fixed interval. Fetches go through
// the tapped client, so matching responses are captured as a side effect.
func pollLoop(ctx context.Context, client *http.Client, bridge *relay.Relay, pages []string, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	visit := func() {
		for _, pageURL := range pages {
			if page, ok := capture.PageContextFromURL(pageURL); ok {
				bridge.ReportPage(page)
			}

			if err := fetchPage(ctx, client, pageURL); err != nil {
				logger.Warn("page fetch failed", "url", pageURL, "error", err)
			}
		}
	}

	visit()

	for {
		select {
		case <-ticker.C:
			visit()
		case <-ctx.Done():
			return
		}
	}
}

func fetchPage(ctx context.Context, client *http.Client, pageURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, err = io.Copy(io.Discard, resp.Body)
	return err
}
