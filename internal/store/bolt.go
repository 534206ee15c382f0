// Package store persists receipts, saved groups and preferences per user, and
// archives scanned images on disk.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/billsplit/billsplit/internal/bill"
	"go.etcd.io/bbolt"
)

const (
	usersBucket       = "users"
	receiptsBucket    = "receipts"
	groupsBucket      = "groups"
	preferencesBucket = "preferences"

	settingsKey = "settings"

	// ReceiptHistoryLimit caps ListReceipts.
	ReceiptHistoryLimit = 50
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("not found")

// SavedReceipt is a detached snapshot of a settled or in-progress bill.
type SavedReceipt struct {
	ID        string        `json:"id"`
	Receipt   *bill.Receipt `json:"receipt"`
	People    []bill.Person `json:"people"`
	Images    []string      `json:"images,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// DB defines the interface for database operations. Every document is
// scoped to a user id.
type DB interface {
	SaveReceipt(userID string, receipt *SavedReceipt) error
	GetReceipt(userID, id string) (*SavedReceipt, error)
	// ListReceipts returns the newest receipts first, at most ReceiptHistoryLimit.
	ListReceipts(userID string) ([]*SavedReceipt, error)
	DeleteReceipt(userID, id string) error

	SaveGroup(userID string, group *bill.SavedGroup) error
	GetGroup(userID, id string) (*bill.SavedGroup, error)
	// ListGroups returns the newest groups first.
	ListGroups(userID string) ([]*bill.SavedGroup, error)
	DeleteGroup(userID, id string) error

	// GetPreferences returns ErrNotFound when the user never saved any.
	GetPreferences(userID string) (*bill.Preferences, error)
	SavePreferences(userID string, prefs *bill.Preferences) error

	Close() error
}

// BoltDB implements the DB interface using BoltDB. Documents live in nested
// buckets: users/<uid>/{receipts,groups,preferences}.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(usersBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// userBucket returns users/<uid>/<name>, creating it when writable.
func userBucket(tx *bbolt.Tx, userID, name string) (*bbolt.Bucket, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	users := tx.Bucket([]byte(usersBucket))
	if !tx.Writable() {
		user := users.Bucket([]byte(userID))
		if user == nil {
			return nil, nil
		}
		return user.Bucket([]byte(name)), nil
	}
	user, err := users.CreateBucketIfNotExists([]byte(userID))
	if err != nil {
		return nil, fmt.Errorf("creating user bucket: %w", err)
	}
	return user.CreateBucketIfNotExists([]byte(name))
}

func (b *BoltDB) put(userID, bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", bucket, err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt, err := userBucket(tx, userID, bucket)
		if err != nil {
			return err
		}
		return bkt.Put([]byte(key), data)
	})
}

func (b *BoltDB) get(userID, bucket, key string, v any) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		bkt, err := userBucket(tx, userID, bucket)
		if err != nil {
			return err
		}
		var data []byte
		if bkt != nil {
			data = bkt.Get([]byte(key))
		}
		if data == nil {
			return fmt.Errorf("%s %s: %w", bucket, key, ErrNotFound)
		}
		return json.Unmarshal(data, v)
	})
}

func (b *BoltDB) delete(userID, bucket, key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt, err := userBucket(tx, userID, bucket)
		if err != nil {
			return err
		}
		if bkt.Get([]byte(key)) == nil {
			return fmt.Errorf("%s %s: %w", bucket, key, ErrNotFound)
		}
		return bkt.Delete([]byte(key))
	})
}

// each decodes every document in a user bucket with fn.
func (b *BoltDB) each(userID, bucket string, fn func(v []byte) error) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		bkt, err := userBucket(tx, userID, bucket)
		if err != nil || bkt == nil {
			return err
		}
		return bkt.ForEach(func(k, v []byte) error {
			if v == nil {
				return nil
			}
			return fn(v)
		})
	})
}

// SaveReceipt creates or replaces a receipt snapshot
func (b *BoltDB) SaveReceipt(userID string, receipt *SavedReceipt) error {
	return b.put(userID, receiptsBucket, receipt.ID, receipt)
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(userID, id string) (*SavedReceipt, error) {
	var receipt SavedReceipt
	if err := b.get(userID, receiptsBucket, id, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// ListReceipts returns the user's most recent receipts
func (b *BoltDB) ListReceipts(userID string) ([]*SavedReceipt, error) {
	receipts := make([]*SavedReceipt, 0)
	err := b.each(userID, receiptsBucket, func(v []byte) error {
		var receipt SavedReceipt
		if err := json.Unmarshal(v, &receipt); err != nil {
			return fmt.Errorf("unmarshaling receipt: %w", err)
		}
		receipts = append(receipts, &receipt)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(receipts, func(i, j int) bool {
		return receipts[i].CreatedAt.After(receipts[j].CreatedAt)
	})
	if len(receipts) > ReceiptHistoryLimit {
		receipts = receipts[:ReceiptHistoryLimit]
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt from the database
func (b *BoltDB) DeleteReceipt(userID, id string) error {
	return b.delete(userID, receiptsBucket, id)
}

// SaveGroup creates or replaces a saved group
func (b *BoltDB) SaveGroup(userID string, group *bill.SavedGroup) error {
	return b.put(userID, groupsBucket, group.ID, group)
}

// GetGroup retrieves a group by ID
func (b *BoltDB) GetGroup(userID, id string) (*bill.SavedGroup, error) {
	var group bill.SavedGroup
	if err := b.get(userID, groupsBucket, id, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// ListGroups returns the user's groups
func (b *BoltDB) ListGroups(userID string) ([]*bill.SavedGroup, error) {
	groups := make([]*bill.SavedGroup, 0)
	err := b.each(userID, groupsBucket, func(v []byte) error {
		var group bill.SavedGroup
		if err := json.Unmarshal(v, &group); err != nil {
			return fmt.Errorf("unmarshaling group: %w", err)
		}
		groups = append(groups, &group)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].CreatedAt.After(groups[j].CreatedAt)
	})
	return groups, nil
}

// DeleteGroup removes a group from the database
func (b *BoltDB) DeleteGroup(userID, id string) error {
	return b.delete(userID, groupsBucket, id)
}

// GetPreferences retrieves the user's settings document
func (b *BoltDB) GetPreferences(userID string) (*bill.Preferences, error) {
	var prefs bill.Preferences
	if err := b.get(userID, preferencesBucket, settingsKey, &prefs); err != nil {
		return nil, err
	}
	return &prefs, nil
}

// SavePreferences replaces the user's settings document
func (b *BoltDB) SavePreferences(userID string, prefs *bill.Preferences) error {
	return b.put(userID, preferencesBucket, settingsKey, prefs)
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
