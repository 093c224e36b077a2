package agent

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudenroll/policy-enrollment-backend/cryptoutils"
	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
	"go.etcd.io/bbolt"
)

// ErrNoRegistration is returned by LoadRegistration when the store holds no
// persisted registration.
var ErrNoRegistration = errors.New("no registration persisted")

var (
	stateBucket = []byte("agent_state")
	deviceIDKey = []byte("device_id")
	dmTokenKey  = []byte("dm_token")
)

// Registration is the agent state that survives restarts.
type Registration struct {
	DeviceID interfaces.DeviceID
	DMToken  interfaces.DMToken
}

// StateStore keeps the agent's registration on a local bbolt database. The
// DM token is sealed at rest with a key derived from the machine secret and
// the device ID, so copying the database file alone does not leak a usable
// registration.
type StateStore struct {
	db            *bbolt.DB
	machineSecret []byte
	log           *slog.Logger
}

// OpenStateStore opens or creates the agent state database at path.
func OpenStateStore(path string, machineSecret []byte, log *slog.Logger) (*StateStore, error) {
	if len(machineSecret) == 0 {
		return nil, errors.New("state store needs a machine secret")
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("could not open state database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(stateBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not initialize state database: %w", err)
	}

	return &StateStore{db: db, machineSecret: machineSecret, log: log}, nil
}

// Close releases the underlying database.
func (s *StateStore) Close() error {
	return s.db.Close()
}

// SaveRegistration persists reg, replacing any previous registration.
func (s *StateStore) SaveRegistration(reg Registration) error {
	if reg.DeviceID == "" || !reg.DMToken.Valid() {
		return errors.New("registration needs a device ID and a DM token")
	}

	key := cryptoutils.DeriveStateKey(s.machineSecret, reg.DeviceID.String())
	sealed, err := cryptoutils.SealState(key, []byte(reg.DMToken))
	if err != nil {
		return fmt.Errorf("could not seal dm token: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(stateBucket)
		if err := bucket.Put(deviceIDKey, []byte(reg.DeviceID)); err != nil {
			return err
		}
		return bucket.Put(dmTokenKey, sealed)
	})
	if err != nil {
		return fmt.Errorf("could not persist registration: %w", err)
	}

	s.log.Debug("persisted registration", slog.String("deviceID", reg.DeviceID.String()))
	return nil
}

// LoadRegistration returns the persisted registration. It fails when the
// sealed DM token does not open, which covers both a wrong machine secret
// and a tampered state file.
func (s *StateStore) LoadRegistration() (Registration, error) {
	var deviceID []byte
	var sealed []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(stateBucket)
		if raw := bucket.Get(deviceIDKey); raw != nil {
			deviceID = append([]byte(nil), raw...)
		}
		if raw := bucket.Get(dmTokenKey); raw != nil {
			sealed = append([]byte(nil), raw...)
		}
		return nil
	})
	if err != nil {
		return Registration{}, fmt.Errorf("could not read state database: %w", err)
	}

	if deviceID == nil || sealed == nil {
		return Registration{}, ErrNoRegistration
	}

	id, err := interfaces.ParseDeviceID(string(deviceID))
	if err != nil {
		return Registration{}, fmt.Errorf("persisted device id is invalid: %w", err)
	}

	key := cryptoutils.DeriveStateKey(s.machineSecret, id.String())
	dmToken, err := cryptoutils.OpenState(key, sealed)
	if err != nil {
		return Registration{}, fmt.Errorf("could not unseal dm token: %w", err)
	}

	return Registration{
		DeviceID: id,
		DMToken:  interfaces.DMToken(dmToken),
	}, nil
}

// ClearRegistration forgets the persisted registration, if any.
func (s *StateStore) ClearRegistration() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(stateBucket)
		if err := bucket.Delete(deviceIDKey); err != nil {
			return err
		}
		return bucket.Delete(dmTokenKey)
	})
}
