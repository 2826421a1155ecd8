package p2p

import (
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	addrBookFile   = "addrbook.db"
	maxStoredAddrs = 200
)

var addrBucket = []byte("addrs")

// AddrBook persists peer addresses so a restarted node can redial known good
// peers without waiting for discovery.
type AddrBook struct {
	db *bolt.DB
}

// OpenAddrBook opens (or creates) the address book under dataDir.
func OpenAddrBook(dataDir string) (*AddrBook, error) {
	db, err := bolt.Open(filepath.Join(dataDir, addrBookFile), 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open addr book: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(addrBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init addr book: %w", err)
	}

	return &AddrBook{db: db}, nil
}

// Put records an address with the current time as last-seen. The oldest
// entries are evicted once the book is full.
func (ab *AddrBook) Put(addr string) error {
	return ab.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(addrBucket)
		if err := b.Put([]byte(addr), []byte(time.Now().UTC().Format(time.RFC3339))); err != nil {
			return err
		}

		for b.Stats().KeyN+1 > maxStoredAddrs {
			oldestKey, oldest := []byte(nil), ""
			c := b.Cursor()
			for k, v := c.First(); k != nil; k, v = c.Next() {
				if oldestKey == nil || string(v) < oldest {
					oldestKey, oldest = k, string(v)
				}
			}
			if oldestKey == nil {
				break
			}
			if err := b.Delete(oldestKey); err != nil {
				return err
			}
		}
		return nil
	})
}

// List returns all stored addresses.
func (ab *AddrBook) List() ([]string, error) {
	var out []string
	err := ab.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(addrBucket).ForEach(func(k, _ []byte) error {
			out = append(out, string(k))
			return nil
		})
	})
	return out, err
}

// Close closes the underlying store.
func (ab *AddrBook) Close() error {
	return ab.db.Close()
}
