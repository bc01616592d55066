package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/clawbowl/clawbowl/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketSandboxes    = []byte("sandboxes")
	bucketDeviceTokens = []byte("device_tokens")

	// Index buckets map a unique attribute to the owning sandbox ID.
	// Uniqueness is enforced inside the same write transaction that
	// inserts the record, so two concurrent creates can never both win.
	bucketIdxUser = []byte("idx_user")
	bucketIdxPort = []byte("idx_port")
	bucketIdxName = []byte("idx_name")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store at the given path
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketSandboxes,
			bucketDeviceTokens,
			bucketIdxUser,
			bucketIdxPort,
			bucketIdxName,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func portKey(port int) []byte {
	return []byte(strconv.Itoa(port))
}

// CreateSandbox inserts a sandbox record. The user, port, and container name
// indexes are checked and written in the same transaction as the record, so a
// conflicting insert fails atomically with ErrUserHasSandbox, ErrPortInUse,
// or ErrNameInUse.
func (s *BoltStore) CreateSandbox(sb *types.Sandbox) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		idxUser := tx.Bucket(bucketIdxUser)
		idxPort := tx.Bucket(bucketIdxPort)
		idxName := tx.Bucket(bucketIdxName)

		if idxUser.Get([]byte(sb.UserID)) != nil {
			return ErrUserHasSandbox
		}
		if idxPort.Get(portKey(sb.Port)) != nil {
			return ErrPortInUse
		}
		if idxName.Get([]byte(sb.ContainerName)) != nil {
			return ErrNameInUse
		}

		data, err := json.Marshal(sb)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketSandboxes).Put([]byte(sb.ID), data); err != nil {
			return err
		}
		if err := idxUser.Put([]byte(sb.UserID), []byte(sb.ID)); err != nil {
			return err
		}
		if err := idxPort.Put(portKey(sb.Port), []byte(sb.ID)); err != nil {
			return err
		}
		return idxName.Put([]byte(sb.ContainerName), []byte(sb.ID))
	})
}

func (s *BoltStore) GetSandbox(id string) (*types.Sandbox, error) {
	var sb types.Sandbox
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSandboxes).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &sb)
	})
	if err != nil {
		return nil, err
	}
	return &sb, nil
}

func (s *BoltStore) GetSandboxByUser(userID string) (*types.Sandbox, error) {
	var sb types.Sandbox
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketIdxUser).Get([]byte(userID))
		if id == nil {
			return ErrNotFound
		}
		data := tx.Bucket(bucketSandboxes).Get(id)
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &sb)
	})
	if err != nil {
		return nil, err
	}
	return &sb, nil
}

func (s *BoltStore) ListSandboxes() ([]*types.Sandbox, error) {
	var sandboxes []*types.Sandbox
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSandboxes).ForEach(func(k, v []byte) error {
			var sb types.Sandbox
			if err := json.Unmarshal(v, &sb); err != nil {
				return err
			}
			sandboxes = append(sandboxes, &sb)
			return nil
		})
	})
	return sandboxes, err
}

func (s *BoltStore) ListSandboxesByState(state types.SandboxState) ([]*types.Sandbox, error) {
	all, err := s.ListSandboxes()
	if err != nil {
		return nil, err
	}
	var out []*types.Sandbox
	for _, sb := range all {
		if sb.State == state {
			out = append(out, sb)
		}
	}
	return out, nil
}

// UsedPorts returns every port currently reserved by a sandbox record,
// including records still in the creating state.
func (s *BoltStore) UsedPorts() ([]int, error) {
	var ports []int
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIdxPort).ForEach(func(k, v []byte) error {
			p, err := strconv.Atoi(string(k))
			if err != nil {
				return fmt.Errorf("corrupt port index key %q: %w", k, err)
			}
			ports = append(ports, p)
			return nil
		})
	})
	return ports, err
}

// UpdateSandbox rewrites a sandbox record in place. The user ID, port, and
// container name are fixed at creation and must not change here.
func (s *BoltStore) UpdateSandbox(sb *types.Sandbox) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSandboxes)
		if b.Get([]byte(sb.ID)) == nil {
			return ErrNotFound
		}
		data, err := json.Marshal(sb)
		if err != nil {
			return err
		}
		return b.Put([]byte(sb.ID), data)
	})
}

// DeleteSandbox removes the record and releases its index entries, freeing
// the port and container name for reuse.
func (s *BoltStore) DeleteSandbox(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSandboxes)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		var sb types.Sandbox
		if err := json.Unmarshal(data, &sb); err != nil {
			return err
		}
		if err := tx.Bucket(bucketIdxUser).Delete([]byte(sb.UserID)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketIdxPort).Delete(portKey(sb.Port)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketIdxName).Delete([]byte(sb.ContainerName)); err != nil {
			return err
		}
		return b.Delete([]byte(id))
	})
}

// Device token operations

func deviceTokenKey(userID, token string) []byte {
	return []byte(userID + "/" + token)
}

func (s *BoltStore) PutDeviceToken(tok *types.DeviceToken) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(tok)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketDeviceTokens).Put(deviceTokenKey(tok.UserID, tok.Token), data)
	})
}

func (s *BoltStore) ListDeviceTokens(userID string) ([]*types.DeviceToken, error) {
	var tokens []*types.DeviceToken
	prefix := []byte(userID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDeviceTokens).Cursor()
		for k, v := c.Seek(prefix); k != nil && len(k) >= len(prefix) && string(k[:len(prefix)]) == string(prefix); k, v = c.Next() {
			var tok types.DeviceToken
			if err := json.Unmarshal(v, &tok); err != nil {
				return err
			}
			tokens = append(tokens, &tok)
		}
		return nil
	})
	return tokens, err
}

func (s *BoltStore) DeleteDeviceToken(userID, token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeviceTokens).Delete(deviceTokenKey(userID, token))
	})
}
