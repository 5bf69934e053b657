package nn

import (
	"encoding/binary"
	"math"

	"go.etcd.io/bbolt"

	"happyml/internal/happymlerr"
)

// RetentionPolicy decides which training epochs actually get persisted to
// disk. Grounded on original_source/src/ml/enums.hpp's
// TrainingRetentionPolicy (best/last), which the retrieved source declares
// but never wires to a concrete store; this module is the supplemented
// implementation.
type RetentionPolicy int

const (
	// RetainLast always saves, overwriting the previous checkpoint. Fast,
	// but the final save may not be the best one seen during training.
	RetainLast RetentionPolicy = iota
	// RetainBest only saves when the epoch's loss improves on every prior
	// epoch recorded for this model name.
	RetainBest
)

var checkpointBucket = []byte("checkpoints")

// CheckpointStore tracks the best loss seen per model name across training
// runs so a RetainBest policy can decide, epoch by epoch, whether the
// current snapshot is worth persisting. Backed by bbolt, matching the rest
// of the pack's idiom for a small embedded checkpoint/metadata store.
type CheckpointStore struct {
	db *bbolt.DB
}

func OpenCheckpointStore(path string) (*CheckpointStore, error) {
	db, err := bbolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, happymlerr.Wrap(happymlerr.ErrIO, "open checkpoint store", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(checkpointBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, happymlerr.Wrap(happymlerr.ErrIO, "initialize checkpoint bucket", err)
	}
	return &CheckpointStore{db: db}, nil
}

func (c *CheckpointStore) Close() error {
	return c.db.Close()
}

// ShouldRetain reports whether the current epoch's snapshot should be
// persisted under policy, and, for RetainBest, records the new best loss
// when it does.
func (c *CheckpointStore) ShouldRetain(modelName string, policy RetentionPolicy, loss float32) (bool, error) {
	if policy == RetainLast {
		return true, nil
	}
	retain := false
	err := c.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(checkpointBucket)
		key := []byte(modelName)
		existing := bucket.Get(key)
		best := math.Inf(1)
		if existing != nil {
			best = math.Float64frombits(binary.BigEndian.Uint64(existing))
		}
		if float64(loss) < best {
			retain = true
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], math.Float64bits(float64(loss)))
			return bucket.Put(key, buf[:])
		}
		return nil
	})
	if err != nil {
		return false, happymlerr.Wrap(happymlerr.ErrIO, "update checkpoint record", err)
	}
	return retain, nil
}

// BestLoss returns the best loss recorded for modelName, or (0, false) if
// none has been recorded yet.
func (c *CheckpointStore) BestLoss(modelName string) (float64, bool, error) {
	var loss float64
	found := false
	err := c.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(checkpointBucket)
		existing := bucket.Get([]byte(modelName))
		if existing == nil {
			return nil
		}
		loss = math.Float64frombits(binary.BigEndian.Uint64(existing))
		found = true
		return nil
	})
	if err != nil {
		return 0, false, happymlerr.Wrap(happymlerr.ErrIO, "read checkpoint record", err)
	}
	return loss, found, nil
}

// RetentionPolicyByName resolves the config-file string for a retention
// policy, mirroring enums.hpp's string<->enum mapping convention.
func RetentionPolicyByName(name string) (RetentionPolicy, error) {
	switch name {
	case "best":
		return RetainBest, nil
	case "last":
		return RetainLast, nil
	default:
		return 0, happymlerr.Configf("unknown retention policy %q", name)
	}
}

func RetentionPolicyName(p RetentionPolicy) string {
	if p == RetainBest {
		return "best"
	}
	return "last"
}
