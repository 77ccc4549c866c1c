package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/viper"

	"github.com/joescharf/echotab/internal/api"
	"github.com/joescharf/echotab/internal/llm"
	"github.com/joescharf/echotab/internal/messaging"
	"github.com/joescharf/echotab/internal/metadata"
	"github.com/joescharf/echotab/internal/scheduler"
	"github.com/joescharf/echotab/internal/snapshot"
	"github.com/joescharf/echotab/internal/store"
	"github.com/joescharf/echotab/internal/web"
)

// app is the assembled server: API, public pages, and background jobs.
type app struct {
	api     *api.Server
	pages   *web.Pages
	sched   *scheduler.Scheduler
	browser *snapshot.BrowserCapturer
	log     *slog.Logger
}

func snapshotConfig() snapshot.Config {
	return snapshot.Config{
		Width:   viper.GetInt("snapshot.width"),
		Height:  viper.GetInt("snapshot.height"),
		Quality: viper.GetInt("snapshot.quality"),
		Timeout: viper.GetDuration("snapshot.capture_timeout"),
	}
}

// newBrowserCapturer returns the native capturer, or nil when disabled.
func newBrowserCapturer(log *slog.Logger) *snapshot.BrowserCapturer {
	if !viper.GetBool("browser.enabled") {
		return nil
	}
	return snapshot.NewBrowserCapturer(snapshot.BrowserConfig{
		RemoteURL: viper.GetString("browser.remote_url"),
		Logger:    log,
	})
}

func newApp(s *store.SQLiteStore, log *slog.Logger) (*app, error) {
	bus := messaging.NewBus(log)
	a := &app{browser: newBrowserCapturer(log), log: log}

	var fallback snapshot.Capturer
	if a.browser != nil {
		fallback = a.browser
	}
	snaps := snapshot.NewService(s, snapshot.NewContentScriptCapturer(bus), fallback, snapshotConfig(), log)

	opts := api.Options{
		Store:         s,
		Snapshots:     snaps,
		Metadata:      metadata.NewFetcher(nil),
		Bus:           bus,
		AuthHeader:    viper.GetString("auth.header"),
		RatePerMinute: viper.GetInt("ratelimit.per_minute"),
		RateBurst:     viper.GetInt("ratelimit.burst"),
		TrustProxy:    viper.GetBool("server.trust_proxy"),
		Logger:        log,
	}
	if key := viper.GetString("anthropic.api_key"); key != "" {
		opts.Suggester = llm.NewClient(key, viper.GetString("anthropic.model"))
	}
	a.api = api.NewServer(opts)

	pages, err := web.New(s, viper.GetString("server.base_url"), log)
	if err != nil {
		return nil, fmt.Errorf("load page templates: %w", err)
	}
	pages.LimitViews(a.api.AllowCount)
	a.pages = pages

	a.sched = scheduler.New(log)
	ttl := viper.GetDuration("snapshot.temp_ttl")
	if err := a.sched.Add("purge-staged-snapshots", scheduler.PurgeSpec, scheduler.PurgeJob(s, ttl, log)); err != nil {
		return nil, err
	}
	return a, nil
}

// handler mounts the API and the public pages on one mux.
func (a *app) handler() (http.Handler, error) {
	mux := http.NewServeMux()
	a.api.Register(mux)
	if err := a.pages.Register(mux); err != nil {
		return nil, fmt.Errorf("register pages: %w", err)
	}
	return a.api.CORS(mux), nil
}

// close stops background work and the headless browser.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if err := a.sched.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}
	if a.browser != nil {
		if err := a.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	}
	return errors.Join(errs...)
}
