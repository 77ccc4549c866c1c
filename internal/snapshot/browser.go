package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// BrowserConfig configures the headless capturer.
type BrowserConfig struct {
	// RemoteURL is the DevTools WebSocket URL of a running Chrome.
	// Empty launches a local headless Chrome on first use.
	RemoteURL string
	Width     int
	Height    int
	Logger    *slog.Logger
}

// BrowserCapturer renders pages in headless Chrome and screenshots them.
type BrowserCapturer struct {
	cfg BrowserConfig

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

func NewBrowserCapturer(cfg BrowserConfig) *BrowserCapturer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Width <= 0 {
		cfg.Width = 1280
	}
	if cfg.Height <= 0 {
		cfg.Height = 720
	}
	return &BrowserCapturer{cfg: cfg}
}

// ensure returns the shared browser, starting it if needed. Caller holds mu.
func (c *BrowserCapturer) ensure() (*rod.Browser, error) {
	if c.closed {
		return nil, errors.New("browser: capturer is closed")
	}
	if c.browser != nil {
		return c.browser, nil
	}

	wsURL := c.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(true)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		c.lnch = l
		c.cfg.Logger.Info("browser: launched local chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	c.browser = b
	return b, nil
}

// Capture navigates a fresh page to target.URL and returns a PNG screenshot
// of the viewport.
func (c *BrowserCapturer) Capture(ctx context.Context, target Target) ([]byte, error) {
	if target.URL == "" {
		return nil, errors.New("browser capture: url is required")
	}

	c.mu.Lock()
	b, err := c.ensure()
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return nil, fmt.Errorf("browser capture: new page: %w", err)
	}
	defer page.Close()

	page = page.Context(ctx)
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             c.cfg.Width,
		Height:            c.cfg.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		return nil, fmt.Errorf("browser capture: viewport: %w", err)
	}
	if err := page.Navigate(target.URL); err != nil {
		return nil, fmt.Errorf("browser capture: navigate %s: %w", target.URL, err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("browser capture: wait load: %w", err)
	}

	img, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("browser capture: screenshot: %w", err)
	}
	return img, nil
}

// Close shuts down the browser if one was started.
func (c *BrowserCapturer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true

	var err error
	if c.browser != nil {
		err = c.browser.Close()
		c.browser = nil
	}
	if c.lnch != nil {
		c.lnch.Kill()
		c.lnch = nil
	}
	return err
}
