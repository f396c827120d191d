package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"
	"go.uber.org/zap"
)

// DatabaseFileName is the bbolt file created inside the data directory
const DatabaseFileName = "fedsearch.db"

// BoltDB wraps bolt database operations
type BoltDB struct {
	db     *bbolt.DB
	logger *zap.SugaredLogger
}

// OpenTimeout bounds the wait for the file lock held by another process
const OpenTimeout = 5 * time.Second

// NewBoltDB opens or creates the database in dataDir. It fails with
// ErrDatabaseLocked when another process holds the file.
func NewBoltDB(dataDir string, logger *zap.SugaredLogger) (*BoltDB, error) {
	dbPath := filepath.Join(dataDir, DatabaseFileName)

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: OpenTimeout,
	})
	if err != nil {
		if errors.Is(err, berrors.ErrTimeout) {
			logger.Warnw("Database is locked by another process", "path", dbPath)
			return nil, fmt.Errorf("%w: %s", ErrDatabaseLocked, dbPath)
		}
		return nil, fmt.Errorf("failed to open bolt database %s: %w", dbPath, err)
	}
	logger.Debugw("Database opened", "path", dbPath)

	boltDB := &BoltDB{
		db:     db,
		logger: logger,
	}

	if err := boltDB.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return boltDB, nil
}

// Close closes the database
func (b *BoltDB) Close() error {
	return b.db.Close()
}

// Path returns the database file path
func (b *BoltDB) Path() string {
	return b.db.Path()
}

// Ping verifies the database can serve a read transaction
func (b *BoltDB) Ping() error {
	return b.db.View(func(_ *bbolt.Tx) error {
		return nil
	})
}

// initBuckets creates required buckets and sets up schema
func (b *BoltDB) initBuckets() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		buckets := []string{
			InstancesBucket,
			InstanceNamesBucket,
			InstanceEndpointsBucket,
			MetaBucket,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		metaBucket := tx.Bucket([]byte(MetaBucket))
		versionBytes := make([]byte, 8)
		binary.LittleEndian.PutUint64(versionBytes, CurrentSchemaVersion)
		return metaBucket.Put([]byte(SchemaVersionKey), versionBytes)
	})
}

// GetSchemaVersion returns the current schema version
func (b *BoltDB) GetSchemaVersion() (uint64, error) {
	var version uint64
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(MetaBucket))
		if bucket == nil {
			return fmt.Errorf("meta bucket not found")
		}

		versionBytes := bucket.Get([]byte(SchemaVersionKey))
		if versionBytes == nil {
			version = 0
			return nil
		}

		version = binary.LittleEndian.Uint64(versionBytes)
		return nil
	})

	return version, err
}
