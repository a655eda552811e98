// Package storage keeps a ledger of past builds in a bbolt database.
package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	bolt "go.etcd.io/bbolt"

	"github.com/ngld/distbuild/pkg/selector"
)

type txCtxKey struct{}

var buildBucket = []byte("builds")

// ProjectRecord describes what was built for a single project
type ProjectRecord struct {
	Name      string               `json:"name" yaml:"name"`
	Kind      selector.ProjectKind `json:"kind" yaml:"kind"`
	Selectors []selector.Selector  `json:"selectors,omitempty" yaml:"selectors,omitempty"`
}

// BuildRecord describes a single build run
type BuildRecord struct {
	ID       string          `json:"id" yaml:"id"`
	Started  time.Time       `json:"started" yaml:"started"`
	Finished time.Time       `json:"finished" yaml:"finished"`
	Env      string          `json:"env" yaml:"env"`
	Since    time.Time       `json:"since" yaml:"since"`
	Projects []ProjectRecord `json:"projects" yaml:"projects"`
}

// idTimeFormat is fixed-width so IDs sort in the order the builds started
const idTimeFormat = "20060102T150405.000Z"

// NewBuildID returns "<start time>-<nanoid>"
func NewBuildID(started time.Time) string {
	return started.UTC().Format(idTimeFormat) + "-" + nanoid.New()
}

// Ledger stores BuildRecords keyed by their time-ordered ID
type Ledger struct {
	db *bolt.DB
}

// Open opens (or creates) the ledger at path
func Open(path string) (*Ledger, error) {
	err := os.MkdirAll(filepath.Dir(path), 0o770)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create directory for %s", path)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open %s", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(buildBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, eris.Wrap(err, "failed to initialize ledger")
	}

	return &Ledger{db: db}, nil
}

// Close releases the database
func (l *Ledger) Close() error {
	return l.db.Close()
}

// CtxWithTx attaches a transaction to ctx. Ledger methods called with such a context reuse the
// transaction instead of opening their own.
func CtxWithTx(ctx context.Context, tx *bolt.Tx) context.Context {
	return context.WithValue(ctx, txCtxKey{}, tx)
}

// TxFromCtx returns the transaction attached to ctx or nil
func TxFromCtx(ctx context.Context) *bolt.Tx {
	val := ctx.Value(txCtxKey{})
	if val == nil {
		return nil
	}
	return val.(*bolt.Tx)
}

// BatchUpdate runs callback inside a single write transaction
func (l *Ledger) BatchUpdate(ctx context.Context, callback func(context.Context) error) error {
	return l.db.Batch(func(tx *bolt.Tx) error {
		return callback(CtxWithTx(ctx, tx))
	})
}

// Record stores rec under its ID. An ID is assigned from rec.Started if rec has none.
func (l *Ledger) Record(ctx context.Context, rec *BuildRecord) error {
	tx := TxFromCtx(ctx)
	if tx == nil {
		return l.db.Update(func(tx *bolt.Tx) error {
			return l.Record(CtxWithTx(ctx, tx), rec)
		})
	}

	if rec.ID == "" {
		started := rec.Started
		if started.IsZero() {
			started = time.Now()
		}
		rec.ID = NewBuildID(started)
	}

	encoded, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "failed to encode build record")
	}

	return tx.Bucket(buildBucket).Put([]byte(rec.ID), encoded)
}

// List returns up to limit records, most recently started first. A limit <= 0 returns all records.
func (l *Ledger) List(ctx context.Context, limit int) ([]*BuildRecord, error) {
	tx := TxFromCtx(ctx)
	if tx == nil {
		var result []*BuildRecord
		err := l.db.View(func(tx *bolt.Tx) error {
			var err error
			result, err = l.List(CtxWithTx(ctx, tx), limit)
			return err
		})
		return result, err
	}

	result := make([]*BuildRecord, 0)
	cursor := tx.Bucket(buildBucket).Cursor()
	for key, value := cursor.Last(); key != nil; key, value = cursor.Prev() {
		if limit > 0 && len(result) >= limit {
			break
		}

		rec := new(BuildRecord)
		err := json.Unmarshal(value, rec)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to decode build record %s", key)
		}
		result = append(result, rec)
	}

	return result, nil
}
