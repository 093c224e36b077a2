package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloudenroll/policy-enrollment-backend/api"
	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
	"github.com/cloudenroll/policy-enrollment-backend/policysign"
)

// PolicyResolver turns policy envelopes into verified payloads. The
// verifying key is pinned at construction: envelopes signed by anything else
// are rejected no matter where the payload came from.
type PolicyResolver struct {
	factory         interfaces.StorageBackendFactory
	verifyingKeyPEM []byte
	log             *slog.Logger
}

// NewPolicyResolver creates a resolver. The factory is only consulted for
// envelopes whose payload is not inlined; it may be nil when the caller
// knows every envelope inlines its payload.
func NewPolicyResolver(factory interfaces.StorageBackendFactory, verifyingKeyPEM []byte, log *slog.Logger) (*PolicyResolver, error) {
	if len(verifyingKeyPEM) == 0 {
		return nil, errors.New("policy resolver needs a verifying key")
	}

	return &PolicyResolver{
		factory:         factory,
		verifyingKeyPEM: verifyingKeyPEM,
		log:             log,
	}, nil
}

// Resolve returns the envelope's payload after verifying it: the payload is
// taken inline or fetched from the envelope's storage locations, its hash
// checked against the envelope's content ID, and its detached signature
// verified against the pinned key.
func (r *PolicyResolver) Resolve(ctx context.Context, envelope *api.PolicyFetchResponse) ([]byte, error) {
	contentID, err := interfaces.NewContentIDFromHex(envelope.ContentID)
	if err != nil {
		return nil, fmt.Errorf("envelope carries an invalid content id: %w", err)
	}

	payload := envelope.Payload
	if payload == nil {
		payload, err = r.fetchPayload(ctx, envelope.Locations, contentID)
		if err != nil {
			return nil, err
		}
	}

	if !interfaces.ComputeID(payload).Equal(contentID) {
		return nil, fmt.Errorf("payload hash does not match content id %s", contentID)
	}

	if err := policysign.Verify(r.verifyingKeyPEM, payload, envelope.Signature); err != nil {
		return nil, fmt.Errorf("policy signature rejected: %w", err)
	}

	r.log.Debug("resolved policy payload",
		slog.String("domain", envelope.Domain),
		slog.String("contentID", contentID.String()),
		slog.Int("size", len(payload)))
	return payload, nil
}

// fetchPayload loads a non-inlined payload from the envelope's advertised
// storage locations.
func (r *PolicyResolver) fetchPayload(ctx context.Context, locationURIs []string, contentID interfaces.ContentID) ([]byte, error) {
	if r.factory == nil {
		return nil, errors.New("envelope payload is not inlined and no storage factory is configured")
	}
	if len(locationURIs) == 0 {
		return nil, errors.New("envelope payload is not inlined and lists no storage locations")
	}

	locations := make([]interfaces.StorageBackendLocation, 0, len(locationURIs))
	for _, uri := range locationURIs {
		location, err := interfaces.NewStorageBackendLocation(uri)
		if err != nil {
			r.log.Warn("skipping storage location from envelope", slog.String("location", uri), "err", err)
			continue
		}
		locations = append(locations, location)
	}

	backend, err := r.factory.CreateMultiBackend(locations)
	if err != nil {
		return nil, fmt.Errorf("could not build storage for envelope locations: %w", err)
	}

	payload, err := backend.Fetch(ctx, contentID, interfaces.PolicyContent)
	if err != nil {
		return nil, fmt.Errorf("could not fetch policy payload %s: %w", contentID, err)
	}
	return payload, nil
}
