package storage

import (
	"encoding"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"
	"go.uber.org/zap"
)

// DBFileName is the launcher state database inside the data directory.
const DBFileName = "launcher.db"

// BoltDB wraps bolt database operations
type BoltDB struct {
	db     *bbolt.DB
	logger *zap.SugaredLogger
}

// NewBoltDB opens <dataDir>/launcher.db. A database that stays locked is moved
// aside and recreated; it only holds recoverable update bookkeeping.
func NewBoltDB(dataDir string, logger *zap.SugaredLogger) (*BoltDB, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	dbPath := filepath.Join(dataDir, DBFileName)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		logger.Warnf("Failed to open database on first attempt: %v", err)

		if err == bolterrors.ErrTimeout {
			backupPath := dbPath + ".backup." + time.Now().Format("20060102-150405")
			logger.Infof("Database locked, moving it to %s", backupPath)
			if cpErr := copyFile(dbPath, backupPath); cpErr != nil {
				logger.Warnf("Failed to create backup: %v", cpErr)
			}
			if rmErr := os.Remove(dbPath); rmErr != nil {
				logger.Warnf("Failed to remove locked database file: %v", rmErr)
			}
			db, err = bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: time.Second})
		}
		if err != nil {
			return nil, fmt.Errorf("failed to open bolt database: %w", err)
		}
	}

	boltDB := &BoltDB{db: db, logger: logger}
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

func (b *BoltDB) initBuckets() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range []string{UpdatesBucket, MetaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		versionBytes := make([]byte, 8)
		binary.LittleEndian.PutUint64(versionBytes, CurrentSchemaVersion)
		return tx.Bucket([]byte(MetaBucket)).Put([]byte(SchemaVersionKey), versionBytes)
	})
}

// GetSchemaVersion returns the stored schema version
func (b *BoltDB) GetSchemaVersion() (uint64, error) {
	var version uint64
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(MetaBucket))
		if bucket == nil {
			return fmt.Errorf("meta bucket not found")
		}
		if v := bucket.Get([]byte(SchemaVersionKey)); len(v) == 8 {
			version = binary.LittleEndian.Uint64(v)
		}
		return nil
	})
	return version, err
}

// SavePendingUpdate records an update to install at the next clean shutdown.
func (b *BoltDB) SavePendingUpdate(p *PendingUpdate) error {
	return b.put(UpdatesBucket, PendingUpdateKey, p)
}

// GetPendingUpdate returns the deferred update, or nil when there is none.
func (b *BoltDB) GetPendingUpdate() (*PendingUpdate, error) {
	p := &PendingUpdate{}
	found, err := b.get(UpdatesBucket, PendingUpdateKey, p)
	if err != nil || !found {
		return nil, err
	}
	return p, nil
}

// ClearPendingUpdate forgets the deferred update.
func (b *BoltDB) ClearPendingUpdate() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(UpdatesBucket)).Delete([]byte(PendingUpdateKey))
	})
}

// SaveLastCheck stores the outcome of the most recent update check.
func (b *BoltDB) SaveLastCheck(c *CheckRecord) error {
	return b.put(UpdatesBucket, LastCheckKey, c)
}

// GetLastCheck returns the last update check, or nil before the first one.
func (b *BoltDB) GetLastCheck() (*CheckRecord, error) {
	c := &CheckRecord{}
	found, err := b.get(UpdatesBucket, LastCheckKey, c)
	if err != nil || !found {
		return nil, err
	}
	return c, nil
}

func (b *BoltDB) put(bucket, key string, v encoding.BinaryMarshaler) error {
	data, err := v.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put([]byte(key), data)
	})
}

func (b *BoltDB) get(bucket, key string, v encoding.BinaryUnmarshaler) (bool, error) {
	var found bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucket)).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return v.UnmarshalBinary(data)
	})
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return found, nil
}

// Backup writes a consistent copy of the database to destPath
func (b *BoltDB) Backup(destPath string) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		return tx.CopyFile(destPath, 0o600)
	})
}

func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	return err
}
