// Package storage — bolt.go
//
// bbolt-backed persistent storage for the triaged daemon.
//
// Schema (bbolt bucket layout):
//
//	/priors
//	    key:   sha256(binary_path)  [32 bytes hex-encoded = 64 chars]
//	    value: JSON-encoded PriorRecord
//
//	/beliefs
//	    key:   pid_starttime, e.g. "1234_1690000000000000000"
//	    value: JSON-encoded BeliefRecord
//
//	/calibration
//	    key:   fixed-width UTC timestamp (nanoseconds) + "_" + pid  [sortable]
//	    value: JSON-encoded CalibrationEntry
//
//	/meta
//	    key:   "schema_version"
//	    value: "1"
//
// Consistency model:
//   - Single-process, single-writer (bbolt does not support concurrent writers).
//   - All writes use ACID transactions (bbolt Tx.Commit()).
//   - Reads use read-only transactions (bbolt.View()).
//   - CRC32 integrity check on database open (bbolt built-in).
//
// Retention:
//   - Calibration ledger entries older than RetentionDays are pruned by
//     PruneOldCalibrationEntries, which the daemon calls once at startup.
//   - Priors and beliefs are never automatically pruned (operator action
//     required, or superseded in place when a fresher record is written).
//
// Failure modes:
//   - bbolt file corruption: bbolt detects via CRC and returns an error
//     on Open(). The daemon logs a fatal event and refuses to start.
//     Recovery: restore from backup.
//   - Disk full: bbolt.Update() returns an error. The daemon logs the
//     error and continues without persisting (in-memory state preserved).

package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/octoreflex/triaged/internal/belief"
	"github.com/octoreflex/triaged/internal/calibration"
)

const (
	// DefaultDBPath is the default bbolt file location.
	DefaultDBPath = "/var/lib/triaged/triaged.db"

	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	// DefaultRetentionDays is the default calibration ledger retention period.
	DefaultRetentionDays = 30

	// bucketPriors is the bbolt bucket name for per-binary warm-start priors.
	bucketPriors = "priors"

	// bucketBeliefs is the bbolt bucket name for per-PID last-known posteriors.
	bucketBeliefs = "beliefs"

	// bucketCalibration is the bbolt bucket name for the calibration ledger.
	bucketCalibration = "calibration"

	// bucketMeta is the bbolt bucket name for schema metadata.
	bucketMeta = "meta"
)

// NormalGammaPrior is the persisted form of a warm-start BOCPD segment
// prior for one binary. Mirrors bocpd.NormalGamma's fields directly rather
// than serializing the SegmentModel interface, since NormalGamma is the
// only segment family warm-started from disk.
type NormalGammaPrior struct {
	Mu    float64 `json:"mu"`
	Kappa float64 `json:"kappa"`
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

// GPDThreshold is the persisted form of a warm-start GPD/POT fit for one
// binary's tail model.
type GPDThreshold struct {
	Threshold float64 `json:"threshold"`
	Xi        float64 `json:"xi"`
	Sigma     float64 `json:"sigma"`
}

// PriorRecord is the persisted form of a per-binary warm-start prior,
// stored as JSON in the priors bucket. Generalizes the teacher's
// BaselineRecord (Mahalanobis mean/covariance baseline) to the conjugate
// priors spec.md §4.3/§4.5 need to warm-start a newly observed process
// sharing a binary with previously seen ones.
type PriorRecord struct {
	BinaryPath  string           `json:"binary_path"`
	BinaryHash  string           `json:"binary_hash"`
	BocpdPrior  NormalGammaPrior `json:"bocpd_prior"`
	GPDFit      GPDThreshold     `json:"gpd_fit"`
	SampleCount int              `json:"sample_count"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// BeliefRecord is the persisted form of one PID's last-known posterior, so
// a daemon restart doesn't silently re-initialize a long-tracked PID back
// to a uniform prior.
type BeliefRecord struct {
	PID       int           `json:"pid"`
	StartTime int64         `json:"start_time"`
	Belief    belief.Belief `json:"belief"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// CalibrationEntry pairs one calibration.Data sample with the PID and
// timestamp it was recorded for, in the append-only calibration ledger.
type CalibrationEntry struct {
	Timestamp time.Time        `json:"timestamp"`
	PID       int              `json:"pid"`
	Sample    calibration.Data `json:"sample"`
}

// DB wraps a bbolt instance with typed accessors for triaged's persisted
// state.
type DB struct {
	db            *bolt.DB
	retentionDays int
}

// Open opens (or creates) the bbolt database at the given path.
// Initialises all required buckets and verifies the schema version.
// Returns an error if the database is corrupt or schema is incompatible.
func Open(path string, retentionDays int) (*DB, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:      5 * time.Second,
		NoGrowSync:   false,
		FreelistType: bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	d := &DB{db: bdb, retentionDays: retentionDays}

	// Initialise buckets and schema version in a single write transaction.
	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketPriors, bucketBeliefs, bucketCalibration, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}

		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("database initialisation failed: %w", err)
	}

	if err := d.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return d, nil
}

// checkSchemaVersion reads and validates the stored schema version.
func (d *DB) checkSchemaVersion() error {
	return d.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		v := meta.Get([]byte("schema_version"))
		if string(v) != SchemaVersion {
			return fmt.Errorf(
				"schema version mismatch: database has %q, daemon requires %q. "+
					"Run migration or restore from backup.",
				string(v), SchemaVersion,
			)
		}
		return nil
	})
}

// Close closes the underlying bbolt file.
func (d *DB) Close() error {
	return d.db.Close()
}

// ─── Prior operations ──────────────────────────────────────────────────────

// binaryKey computes the bbolt key for a binary path: sha256(path) hex-encoded.
func binaryKey(binaryPath string) []byte {
	h := sha256.Sum256([]byte(binaryPath))
	key := make([]byte, hex.EncodedLen(len(h)))
	hex.Encode(key, h[:])
	return key
}

// PutPrior writes or updates the warm-start prior for a binary path.
func (d *DB) PutPrior(rec PriorRecord) error {
	rec.BinaryHash = string(binaryKey(rec.BinaryPath))
	rec.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("PutPrior marshal: %w", err)
	}

	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketPriors))
		if err := b.Put([]byte(rec.BinaryHash), data); err != nil {
			return fmt.Errorf("PutPrior bolt.Put: %w", err)
		}
		return nil
	})
}

// GetPrior retrieves the warm-start prior for a binary path. Returns
// (nil, nil) if no prior exists for this binary.
func (d *DB) GetPrior(binaryPath string) (*PriorRecord, error) {
	key := binaryKey(binaryPath)
	var rec PriorRecord
	found := false

	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketPriors))
		data := b.Get(key)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("GetPrior(%q): %w", binaryPath, err)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

// ─── Belief operations ──────────────────────────────────────────────────────

// beliefKey constructs the bbolt key for a PID's belief: "pid_starttime".
// Including StartTime means a recycled PID never reads back a stale
// predecessor's belief.
func beliefKey(pid int, startTime int64) []byte {
	return []byte(fmt.Sprintf("%d_%d", pid, startTime))
}

// PutBelief writes or updates a PID's last-known posterior.
func (d *DB) PutBelief(rec BeliefRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("PutBelief marshal: %w", err)
	}
	key := beliefKey(rec.PID, rec.StartTime)
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketBeliefs))
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("PutBelief bolt.Put: %w", err)
		}
		return nil
	})
}

// GetBelief retrieves the last-known posterior for a PID/start_time pair.
// Returns (nil, nil) if none exists — the caller should fall back to
// belief.Uniform().
func (d *DB) GetBelief(pid int, startTime int64) (*BeliefRecord, error) {
	key := beliefKey(pid, startTime)
	var rec BeliefRecord
	found := false

	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketBeliefs))
		data := b.Get(key)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("GetBelief(%d, %d): %w", pid, startTime, err)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

// DeleteBelief removes a PID's persisted belief, e.g. once the process has
// exited and been reaped.
func (d *DB) DeleteBelief(pid int, startTime int64) error {
	key := beliefKey(pid, startTime)
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketBeliefs)).Delete(key)
	})
}

// ─── Calibration ledger operations ──────────────────────────────────────────

// calibrationKey constructs a sortable bbolt key for a calibration ledger
// entry. Format: UTC timestamp with all nine fractional digits kept (so
// every key has the same width) + "_" + PID (zero-padded to 10 digits).
// Lexicographic sort = chronological sort.
func calibrationKey(t time.Time, pid int) []byte {
	return []byte(fmt.Sprintf("%s_%010d", t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"), pid))
}

// AppendCalibration writes a new calibration ledger entry.
func (d *DB) AppendCalibration(entry CalibrationEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("AppendCalibration marshal: %w", err)
	}

	key := calibrationKey(entry.Timestamp, entry.PID)

	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketCalibration))
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("AppendCalibration bolt.Put: %w", err)
		}
		return nil
	})
}

// PruneOldCalibrationEntries deletes calibration ledger entries older than
// retentionDays. The daemon calls it once at startup. Returns the number
// of entries deleted.
func (d *DB) PruneOldCalibrationEntries() (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -d.retentionDays)
	cutoffKey := calibrationKey(cutoff, 0)

	var deleted int
	err := d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketCalibration))
		c := b.Cursor()

		// Collect keys to delete (cannot delete during iteration in bbolt).
		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if string(k) >= string(cutoffKey) {
				break // All remaining keys are newer than cutoff.
			}
			keyCopy := make([]byte, len(k))
			copy(keyCopy, k)
			toDelete = append(toDelete, keyCopy)
		}

		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("PruneOldCalibrationEntries delete: %w", err)
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// ReadCalibration returns all calibration ledger entries in chronological
// order. For operational use (CLI inspection, offline report generation via
// internal/calibration.GenerateReport). Not called on the hot path.
func (d *DB) ReadCalibration() ([]CalibrationEntry, error) {
	var entries []CalibrationEntry
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketCalibration))
		return b.ForEach(func(_, v []byte) error {
			var entry CalibrationEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	return entries, err
}
