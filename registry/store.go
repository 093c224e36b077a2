package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
	"go.etcd.io/bbolt"
)

var (
	devicesBucket        = []byte("devices")
	dmTokensBucket       = []byte("dmtokens")
	domainPoliciesBucket = []byte("domain_policies")
)

// BoltRegistry is a DeviceRegistry backed by a local bbolt database.
type BoltRegistry struct {
	db  *bbolt.DB
	log *slog.Logger
}

// NewBoltRegistry opens (or creates) the registry database at path and
// ensures all buckets exist.
func NewBoltRegistry(path string, log *slog.Logger) (*BoltRegistry, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening registry database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{devicesBucket, dmTokensBucket, domainPoliciesBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("creating bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltRegistry{db: db, log: log}, nil
}

// Close closes the underlying database.
func (r *BoltRegistry) Close() error {
	return r.db.Close()
}

// PutDevice stores or replaces a device record and keeps the DM token index
// in sync. Replacing a device that held a different token drops the stale
// index entry.
func (r *BoltRegistry) PutDevice(ctx context.Context, device interfaces.Device) error {
	data, err := json.Marshal(device)
	if err != nil {
		return fmt.Errorf("marshaling device record: %w", err)
	}

	err = r.db.Update(func(tx *bbolt.Tx) error {
		devices := tx.Bucket(devicesBucket)
		tokens := tx.Bucket(dmTokensBucket)

		if previous := devices.Get([]byte(device.ID)); previous != nil {
			var old interfaces.Device
			if err := json.Unmarshal(previous, &old); err == nil && old.DMToken != device.DMToken {
				if err := tokens.Delete([]byte(old.DMToken)); err != nil {
					return err
				}
			}
		}

		if err := devices.Put([]byte(device.ID), data); err != nil {
			return err
		}
		return tokens.Put([]byte(device.DMToken), []byte(device.ID))
	})
	if err != nil {
		return fmt.Errorf("storing device record: %w", err)
	}

	r.log.Debug("device record stored",
		slog.String("device_id", string(device.ID)),
		slog.String("domain", device.Domain.String()))
	return nil
}

// Device looks up a device by ID.
func (r *BoltRegistry) Device(ctx context.Context, id interfaces.DeviceID) (interfaces.Device, error) {
	var device interfaces.Device
	err := r.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(devicesBucket).Get([]byte(id))
		if data == nil {
			return interfaces.ErrDeviceNotFound
		}
		return json.Unmarshal(data, &device)
	})
	if err != nil {
		return interfaces.Device{}, err
	}
	return device, nil
}

// DeviceByDMToken looks up the device holding the given DM token.
func (r *BoltRegistry) DeviceByDMToken(ctx context.Context, token interfaces.DMToken) (interfaces.Device, error) {
	var device interfaces.Device
	err := r.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(dmTokensBucket).Get([]byte(token))
		if id == nil {
			return interfaces.ErrDeviceNotFound
		}

		data := tx.Bucket(devicesBucket).Get(id)
		if data == nil {
			return interfaces.ErrDeviceNotFound
		}
		return json.Unmarshal(data, &device)
	})
	if err != nil {
		return interfaces.Device{}, err
	}
	return device, nil
}

// RemoveDevice deletes a device record and its DM token index entry.
func (r *BoltRegistry) RemoveDevice(ctx context.Context, id interfaces.DeviceID) error {
	err := r.db.Update(func(tx *bbolt.Tx) error {
		devices := tx.Bucket(devicesBucket)

		data := devices.Get([]byte(id))
		if data == nil {
			return interfaces.ErrDeviceNotFound
		}

		var device interfaces.Device
		if err := json.Unmarshal(data, &device); err != nil {
			return fmt.Errorf("unmarshaling device record: %w", err)
		}

		if err := tx.Bucket(dmTokensBucket).Delete([]byte(device.DMToken)); err != nil {
			return err
		}
		return devices.Delete([]byte(id))
	})
	if err != nil {
		return err
	}

	r.log.Debug("device record removed", slog.String("device_id", string(id)))
	return nil
}

// ListDevices returns all device records.
func (r *BoltRegistry) ListDevices(ctx context.Context) ([]interfaces.Device, error) {
	var devices []interfaces.Device
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(devicesBucket).ForEach(func(k, v []byte) error {
			var device interfaces.Device
			if err := json.Unmarshal(v, &device); err != nil {
				return fmt.Errorf("unmarshaling device record %s: %w", k, err)
			}
			devices = append(devices, device)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// SetDomainPolicy assigns a policy payload to a domain.
func (r *BoltRegistry) SetDomainPolicy(ctx context.Context, domain interfaces.Domain, id interfaces.ContentID) error {
	err := r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(domainPoliciesBucket).Put([]byte(domain.String()), id.Bytes())
	})
	if err != nil {
		return fmt.Errorf("assigning domain policy: %w", err)
	}

	r.log.Info("domain policy assigned",
		slog.String("domain", domain.String()),
		slog.String("content_id", id.String()))
	return nil
}

// DomainPolicy returns the content ID of the policy assigned to a domain.
func (r *BoltRegistry) DomainPolicy(ctx context.Context, domain interfaces.Domain) (interfaces.ContentID, error) {
	var contentID interfaces.ContentID
	err := r.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(domainPoliciesBucket).Get([]byte(domain.String()))
		if data == nil {
			return interfaces.ErrNoPolicyForDomain
		}

		id, err := interfaces.NewContentIDFromBytes(data)
		if err != nil {
			return fmt.Errorf("stored content ID for %s: %w", domain, err)
		}
		contentID = id
		return nil
	})
	if err != nil {
		return interfaces.ContentID{}, err
	}
	return contentID, nil
}
