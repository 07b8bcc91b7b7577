package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/go-sod/calib/internal/database"
	"github.com/go-sod/calib/internal/run/model"
)

const (
	kindKeys = "kind:keys:"
	prefix   = "run:"
)

type FilterFn func(run model.Run) bool

func New(db *database.DB) *DB {
	return &DB{sDB: db}
}

type DB struct {
	sDB *database.DB
}

func bucketName(kind model.Kind) []byte {
	return []byte(prefix + string(kind))
}

func (db *DB) extractKind(key string) model.Kind {
	return model.Kind(key[strings.Index(key, prefix)+len(prefix):])
}

// Kinds lists the pipeline kinds that have at least one stored run.
func (db *DB) Kinds() ([]model.Kind, error) {
	var kinds []model.Kind
	err := db.sDB.DB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(kindKeys))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			kinds = append(kinds, db.extractKind(string(k)))
		}
		return nil
	})

	return kinds, err
}

func (db *DB) Store(_ context.Context, run model.Run) error {
	bytes, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", run.ID, err)
	}

	if err := db.sDB.DB.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName(run.Kind))
		if err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		if err := b.Put([]byte(run.ID.String()), bytes); err != nil {
			return fmt.Errorf("put to bucket error: %w", err)
		}
		keys, err := tx.CreateBucketIfNotExists([]byte(kindKeys))
		if err != nil {
			return fmt.Errorf("unable create kinds bucket: %w", err)
		}
		if err := keys.Put(bucketName(run.Kind), []byte{0x0}); err != nil {
			return fmt.Errorf("unable put to kinds bucket: %w", err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("update transaction error: %w", err)
	}

	return nil
}

// Get looks the run up in every kind bucket. The boolean is false when no
// run has the id.
func (db *DB) Get(_ context.Context, id uuid.UUID) (model.Run, bool, error) {
	var (
		run   model.Run
		found bool
	)
	err := db.sDB.DB.View(func(tx *bolt.Tx) error {
		keys := tx.Bucket([]byte(kindKeys))
		if keys == nil {
			return nil
		}
		return keys.ForEach(func(k, _ []byte) error {
			if found {
				return nil
			}
			b := tx.Bucket(k)
			if b == nil {
				return nil
			}
			v := b.Get([]byte(id.String()))
			if v == nil {
				return nil
			}
			found = true
			return json.Unmarshal(v, &run)
		})
	})
	if err != nil {
		return model.Run{}, false, fmt.Errorf("view transaction error: %w", err)
	}

	return run, found, nil
}

func (db *DB) Delete(_ context.Context, run model.Run) error {
	if err := db.sDB.DB.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(run.Kind))
		if b == nil {
			return nil
		}

		return b.Delete([]byte(run.ID.String()))
	}); err != nil {
		return fmt.Errorf("update transaction error: %w", err)
	}

	return nil
}

// FindAll returns runs of every kind, oldest first.
func (db *DB) FindAll(ctx context.Context, filter FilterFn) ([]model.Run, error) {
	kinds, err := db.Kinds()
	if err != nil {
		return nil, fmt.Errorf("list kinds: %w", err)
	}

	var runs []model.Run
	for _, kind := range kinds {
		list, err := db.FindByKind(ctx, kind, filter)
		if err != nil {
			return nil, err
		}
		runs = append(runs, list...)
	}
	sortByTime(runs)

	return runs, nil
}

func (db *DB) CountByKind(kind model.Kind) (int, error) {
	var length int
	if err := db.sDB.DB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(kind))
		if b == nil {
			return nil
		}
		length = b.Stats().KeyN
		return nil
	}); err != nil {
		return 0, fmt.Errorf("view transaction error: %w", err)
	}

	return length, nil
}

// FindByKind returns runs of one kind, oldest first.
func (db *DB) FindByKind(_ context.Context, kind model.Kind, filter FilterFn) ([]model.Run, error) {
	var list []model.Run
	if err := db.sDB.DB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(kind))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var run model.Run
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("json unmarshal error, %q", err)
			}
			if filter == nil || filter(run) {
				list = append(list, run)
			}
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("view transaction error: %w", err)
	}
	sortByTime(list)

	return list, nil
}

func sortByTime(runs []model.Run) {
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
}
