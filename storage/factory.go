package storage

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
)

// StorageBackendFactory creates storage backends from location URIs.
type StorageBackendFactory struct {
	log     *slog.Logger
	tlsAuth func() (tls.Certificate, error)
}

// NewStorageBackendFactory creates a factory without TLS client auth.
func NewStorageBackendFactory(log *slog.Logger) *StorageBackendFactory {
	return &StorageBackendFactory{log: log}
}

// WithTLSAuth returns a copy of the factory whose Vault backends
// authenticate with certificates from the given provider.
func (f *StorageBackendFactory) WithTLSAuth(provider func() (tls.Certificate, error)) interfaces.StorageBackendFactory {
	copied := *f
	copied.tlsAuth = provider
	return &copied
}

// StorageBackendFor creates the backend matching the location's scheme.
func (f *StorageBackendFactory) StorageBackendFor(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	switch {
	case location.IsFile():
		return NewFileBackend(location.Path)
	case location.IsS3():
		return NewS3Backend(location)
	case location.IsIPFS():
		return NewIPFSBackend(location)
	case location.IsGitHub():
		return NewGitHubBackend(location)
	case location.IsVault():
		return NewVaultBackend(location, f.tlsAuth)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %s", interfaces.ErrInvalidLocationURI, location.Scheme)
	}
}

// CreateMultiBackend aggregates backends for all given locations. Locations
// that fail to construct are skipped with a warning so one bad URI does not
// take down the rest of the replica set.
func (f *StorageBackendFactory) CreateMultiBackend(locations []interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	backends := make([]interfaces.StorageBackend, 0, len(locations))
	for _, location := range locations {
		backend, err := f.StorageBackendFor(location)
		if err != nil {
			f.log.Warn("skipping storage location", slog.String("location", location.String()), "err", err)
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, errors.New("no usable storage backends configured")
	}

	return NewMultiStorageBackend(backends, f.log)
}
