package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
	"github.com/ipfs/go-cid"
	shell "github.com/ipfs/go-ipfs-api"
	"github.com/multiformats/go-multihash"
)

// IPFSBackend stores content on an IPFS node. Content is added as a single
// raw-leaf CIDv1 block, so the IPFS CID wraps the same SHA-256 digest we use
// as the content ID and fetches need no external index. IPFS addresses by
// content alone, so both content types share one namespace.
type IPFSBackend struct {
	shell       *shell.Shell
	host        string
	locationURI string
}

// NewIPFSBackend creates an IPFS storage backend from a parsed location such
// as ipfs://127.0.0.1:5001/?timeout=30s. The host is the node's API address.
func NewIPFSBackend(location interfaces.StorageBackendLocation) (*IPFSBackend, error) {
	if location.Host == "" {
		return nil, fmt.Errorf("%w: ipfs location needs an API address", interfaces.ErrInvalidLocationURI)
	}

	timeout := 30 * time.Second
	if param := location.GetParam("timeout"); param != "" {
		parsed, err := time.ParseDuration(param)
		if err != nil {
			return nil, fmt.Errorf("%w: bad ipfs timeout %q", interfaces.ErrInvalidLocationURI, param)
		}
		timeout = parsed
	}

	sh := shell.NewShell(location.Host)
	sh.SetTimeout(timeout)

	return &IPFSBackend{
		shell:       sh,
		host:        location.Host,
		locationURI: location.Raw,
	}, nil
}

// Fetch retrieves a block by the CID derived from the content ID.
func (b *IPFSBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	contentCID, err := rawBlockCID(id)
	if err != nil {
		return nil, err
	}

	reader, err := b.shell.Cat(contentCID.String())
	if err != nil {
		if isIPFSNotFound(err) {
			return nil, interfaces.ErrContentNotFound
		}
		return nil, fmt.Errorf("fetching ipfs block: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		if isIPFSNotFound(err) {
			return nil, interfaces.ErrContentNotFound
		}
		return nil, fmt.Errorf("reading ipfs block: %w", err)
	}

	return data, nil
}

// Store pins data as a raw-leaf block and verifies the node assigned the
// expected CID. Content larger than the raw block limit is rejected since
// its CID would no longer wrap the plain SHA-256 digest.
func (b *IPFSBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)

	expected, err := rawBlockCID(id)
	if err != nil {
		return interfaces.ContentID{}, err
	}

	returned, err := b.shell.Add(bytes.NewReader(data), shell.Pin(true), shell.RawLeaves(true), shell.CidVersion(1))
	if err != nil {
		return interfaces.ContentID{}, fmt.Errorf("adding ipfs block: %w", err)
	}

	if returned != expected.String() {
		return interfaces.ContentID{}, fmt.Errorf("ipfs assigned cid %s instead of %s, content exceeds single raw block size", returned, expected)
	}

	return id, nil
}

// Available checks whether the IPFS node answers API requests.
func (b *IPFSBackend) Available(ctx context.Context) bool {
	return b.shell.IsUp()
}

// Name returns an identifier for logging.
func (b *IPFSBackend) Name() string {
	return fmt.Sprintf("ipfs-%s", b.host)
}

// LocationURI returns the URI identifying this backend.
func (b *IPFSBackend) LocationURI() string {
	return b.locationURI
}

func rawBlockCID(id interfaces.ContentID) (cid.Cid, error) {
	mh, err := multihash.Encode(id.Bytes(), multihash.SHA2_256)
	if err != nil {
		return cid.Undef, fmt.Errorf("encoding multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

func isIPFSNotFound(err error) bool {
	// A block nobody provides surfaces as a timeout while the daemon
	// searches the network, not as an explicit not-found response.
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return true
	}
	return strings.Contains(err.Error(), "no link named") || strings.Contains(err.Error(), "not found")
}
