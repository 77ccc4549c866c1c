// Package snapshot captures, resizes, and stores page preview images.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joescharf/echotab/internal/models"
	"github.com/joescharf/echotab/internal/store"
)

// ErrCaptureFailed is returned when every capture strategy failed.
var ErrCaptureFailed = errors.New("snapshot capture failed")

// Store is the persistence the service needs.
type Store interface {
	SaveTempSnapshot(ctx context.Context, snap *models.Snapshot) error
	GetTempSnapshot(ctx context.Context, tabID string) (*models.Snapshot, error)
	CommitSnapshot(ctx context.Context, tabID string) (*models.Snapshot, error)
	DiscardTempSnapshot(ctx context.Context, tabID string) error
	GetSnapshotByURL(ctx context.Context, url string) (*models.Snapshot, error)
	GetSnapshotByTabID(ctx context.Context, tabID string) (*models.Snapshot, error)
}

// Config holds output geometry and capture limits.
type Config struct {
	Width   int
	Height  int
	Quality int
	Timeout time.Duration
}

// DefaultConfig returns a 16:9 640x360 JPEG at quality 80 with a 10s timeout.
func DefaultConfig() Config {
	return Config{Width: 640, Height: 360, Quality: 80, Timeout: 10 * time.Second}
}

// Service captures snapshots with a primary strategy and an optional native
// fallback, and stages them until committed.
type Service struct {
	store    Store
	primary  Capturer
	fallback Capturer
	cfg      Config
	log      *slog.Logger
}

// NewService creates a Service. fallback may be nil.
func NewService(s Store, primary, fallback Capturer, cfg Config, log *slog.Logger) *Service {
	def := DefaultConfig()
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = def.Width, def.Height
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = def.Quality
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: s, primary: primary, fallback: fallback, cfg: cfg, log: log}
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// Capture renders target, resizes the image, and stages it for the tab.
// The fallback runs only when the primary capture fails or returns an image
// that cannot be decoded. When both fail nothing is stored.
func (s *Service) Capture(ctx context.Context, target Target) (*models.Snapshot, error) {
	if target.TabID == "" {
		return nil, fmt.Errorf("capture: tab id is required")
	}

	img, source, err := s.capture(ctx, target)
	if err != nil {
		return nil, err
	}
	return s.stage(ctx, target, img, source)
}

func (s *Service) capture(ctx context.Context, target Target) ([]byte, models.SnapshotSource, error) {
	var errs []error
	if s.primary != nil {
		img, err := s.attempt(ctx, s.primary, target)
		if err == nil {
			return img, models.SnapshotSourceContentScript, nil
		}
		s.log.Debug("primary capture failed", "tab_id", target.TabID, "error", err)
		errs = append(errs, err)
	}
	if s.fallback != nil {
		img, err := s.attempt(ctx, s.fallback, target)
		if err == nil {
			return img, models.SnapshotSourceNative, nil
		}
		s.log.Debug("native capture failed", "tab_id", target.TabID, "error", err)
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		errs = append(errs, errors.New("no capturer configured"))
	}
	s.log.Warn("snapshot capture failed", "tab_id", target.TabID, "url", target.URL)
	return nil, "", fmt.Errorf("%w: %w", ErrCaptureFailed, errors.Join(errs...))
}

func (s *Service) attempt(ctx context.Context, c Capturer, target Target) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	raw, err := c.Capture(ctx, target)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.New("capturer returned an empty image")
	}
	// An image that does not decode counts as a failed attempt.
	return Resize(raw, s.cfg.Width, s.cfg.Height, s.cfg.Quality)
}

// Save stages an image pushed by the extension for target.
func (s *Service) Save(ctx context.Context, target Target, image []byte) (*models.Snapshot, error) {
	if target.TabID == "" {
		return nil, fmt.Errorf("save snapshot: tab id is required")
	}
	img, err := Resize(image, s.cfg.Width, s.cfg.Height, s.cfg.Quality)
	if err != nil {
		return nil, fmt.Errorf("stage snapshot: %w", err)
	}
	return s.stage(ctx, target, img, models.SnapshotSourceUpload)
}

// stage stores an already resized image as the tab's staged snapshot.
func (s *Service) stage(ctx context.Context, target Target, img []byte, source models.SnapshotSource) (*models.Snapshot, error) {
	snap := &models.Snapshot{
		TabID:       target.TabID,
		URL:         target.URL,
		Image:       img,
		ContentType: "image/jpeg",
		Width:       s.cfg.Width,
		Height:      s.cfg.Height,
		Source:      source,
	}
	if err := s.store.SaveTempSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	s.log.Info("snapshot staged", "tab_id", snap.TabID, "source", source, "bytes", len(img))
	return snap, nil
}

// Commit makes the staged snapshot of tabID permanent.
func (s *Service) Commit(ctx context.Context, tabID string) (*models.Snapshot, error) {
	return s.store.CommitSnapshot(ctx, tabID)
}

// Discard drops the staged snapshot of tabID.
func (s *Service) Discard(ctx context.Context, tabID string) error {
	return s.store.DiscardTempSnapshot(ctx, tabID)
}

// Get returns the permanent snapshot for url, or for tabID when url is empty
// or has none. A staged snapshot is returned when no permanent one exists.
func (s *Service) Get(ctx context.Context, url, tabID string) (*models.Snapshot, error) {
	if url == "" && tabID == "" {
		return nil, fmt.Errorf("get snapshot: url or tab id is required")
	}
	if url != "" {
		snap, err := s.store.GetSnapshotByURL(ctx, url)
		if err == nil || !errors.Is(err, store.ErrNotFound) || tabID == "" {
			return snap, err
		}
	}
	snap, err := s.store.GetSnapshotByTabID(ctx, tabID)
	if errors.Is(err, store.ErrNotFound) {
		return s.store.GetTempSnapshot(ctx, tabID)
	}
	return snap, err
}
