package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
)

// MultiStorageBackend aggregates several storage backends. Fetch returns the
// first hit, Store writes to every available backend and succeeds if at
// least one write does. Unavailable backends are skipped, not treated as
// failures, so a degraded replica set keeps serving.
type MultiStorageBackend struct {
	backends []interfaces.StorageBackend
	log      *slog.Logger
}

// NewMultiStorageBackend creates an aggregate over the given backends.
func NewMultiStorageBackend(backends []interfaces.StorageBackend, log *slog.Logger) (*MultiStorageBackend, error) {
	if len(backends) == 0 {
		return nil, errors.New("multi storage backend needs at least one backend")
	}

	return &MultiStorageBackend{
		backends: backends,
		log:      log,
	}, nil
}

// Fetch queries backends in order and returns the first copy found.
func (m *MultiStorageBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("skipping unavailable storage backend", slog.String("backend", backend.Name()))
			continue
		}

		data, err := backend.Fetch(ctx, id, contentType)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, interfaces.ErrContentNotFound) {
			continue
		}
		m.log.Warn("storage backend fetch failed",
			slog.String("backend", backend.Name()),
			slog.String("contentID", id.String()),
			"err", err)
	}

	return nil, fmt.Errorf("content %s not found in any backend: %w", id, interfaces.ErrContentNotFound)
}

// Store writes data to every available backend.
func (m *MultiStorageBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	var (
		storedID interfaces.ContentID
		stored   bool
	)

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Warn("skipping unavailable storage backend for store", slog.String("backend", backend.Name()))
			continue
		}

		id, err := backend.Store(ctx, data, contentType)
		if err != nil {
			m.log.Warn("storage backend store failed", slog.String("backend", backend.Name()), "err", err)
			continue
		}

		if stored && !storedID.Equal(id) {
			m.log.Warn("storage backends disagree on content ID",
				slog.String("backend", backend.Name()),
				slog.String("got", id.String()),
				slog.String("want", storedID.String()))
			continue
		}

		storedID = id
		stored = true
	}

	if !stored {
		return interfaces.ContentID{}, errors.New("failed to store content in any backend")
	}

	return storedID, nil
}

// Available reports whether at least one backend is available.
func (m *MultiStorageBackend) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns an identifier for logging.
func (m *MultiStorageBackend) Name() string {
	return "multi-storage"
}

// LocationURI lists the URIs of all aggregated backends.
func (m *MultiStorageBackend) LocationURI() string {
	uris := make([]string, 0, len(m.backends))
	for _, backend := range m.backends {
		uris = append(uris, backend.LocationURI())
	}
	return fmt.Sprintf("multi:[%s]", strings.Join(uris, ","))
}
