// Copyright 2024-2026 George (earentir) Pantazis (https://earentir.dev)
// SPDX-License-Identifier: GPL-2.0-only

// Package zonestate persists the last published zone in a bbolt file so a
// restarted server can answer before its first sync completes.
package zonestate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/miekg/dns"
	"go.etcd.io/bbolt"

	"pvedns/zone"
)

const zoneBucket = "zone"

var (
	keySnapshot = []byte("snapshot")

	// ErrNotFound means nothing usable was stored for the requested origin.
	ErrNotFound = errors.New("zonestate: no stored zone")
)

type storedZone struct {
	Origin  string    `json:"origin"`
	SavedAt time.Time `json:"saved_at"`
	Records []string  `json:"records"`
}

// DB is an open state file.
type DB struct {
	db        *bbolt.DB
	closeOnce sync.Once
}

// Open opens (creating if needed) the state file at path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("zonestate: create directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("zonestate: open database: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(zoneBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("zonestate: initialize bucket: %w", err)
	}
	return &DB{db: db}, nil
}

// Save replaces the stored zone with snap.
func (d *DB) Save(snap *zone.Snapshot) error {
	if snap == nil {
		return nil
	}
	data, err := json.Marshal(storedZone{
		Origin:  snap.Origin(),
		SavedAt: time.Now().UTC(),
		Records: snap.Strings(),
	})
	if err != nil {
		return fmt.Errorf("zonestate: marshal: %w", err)
	}
	return d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(zoneBucket))
		if b == nil {
			return fmt.Errorf("zonestate: bucket %q not found", zoneBucket)
		}
		return b.Put(keySnapshot, data)
	})
}

// Load returns the stored zone for origin and when it was saved. A zone saved
// for a different origin is reported as ErrNotFound.
func (d *DB) Load(origin string) (*zone.Snapshot, time.Time, error) {
	var stored storedZone
	err := d.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(zoneBucket))
		if b == nil {
			return ErrNotFound
		}
		data := b.Get(keySnapshot)
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &stored)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, time.Time{}, err
		}
		return nil, time.Time{}, fmt.Errorf("zonestate: read: %w", err)
	}
	if stored.Origin != zone.CanonicalName(origin) {
		return nil, time.Time{}, ErrNotFound
	}

	records := make([]dns.RR, 0, len(stored.Records))
	for _, line := range stored.Records {
		rr, err := dns.NewRR(line)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("zonestate: parse record %q: %w", line, err)
		}
		if rr != nil {
			records = append(records, rr)
		}
	}
	return zone.NewSnapshot(stored.Origin, records), stored.SavedAt, nil
}

// Close closes the database file.
func (d *DB) Close() error {
	if d == nil {
		return nil
	}
	var err error
	d.closeOnce.Do(func() {
		err = d.db.Close()
	})
	return err
}
