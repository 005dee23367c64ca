package vectorindex

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"localrag/internal/domain"
)

var (
	bucketVectors = []byte("vectors")
	bucketMeta    = []byte("meta")
	keyDimension  = []byte("dimension")
)

// BoltMirror stores one key per chunk in a bbolt bucket. Keys are big-endian
// chunk ids so the bucket iterates in id order.
type BoltMirror struct {
	db        *bbolt.DB
	dimension int
}

func OpenBoltMirror(path string, dimension int) (*BoltMirror, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open vector mirror: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketVectors); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		if meta.Get(keyDimension) == nil {
			return meta.Put(keyDimension, encodeID(int64(dimension)))
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create vector buckets: %w", err)
	}

	return &BoltMirror{db: db, dimension: dimension}, nil
}

func (m *BoltMirror) Load() (map[int64][]float32, error) {
	vectors := make(map[int64][]float32)
	err := m.db.View(func(tx *bbolt.Tx) error {
		if raw := tx.Bucket(bucketMeta).Get(keyDimension); raw != nil {
			if stored := decodeID(raw); stored != int64(m.dimension) {
				return fmt.Errorf("vector mirror has dimension %d, expected %d", stored, m.dimension)
			}
		}

		b := tx.Bucket(bucketVectors)
		return b.ForEach(func(k, v []byte) error {
			if len(k) != 8 {
				return fmt.Errorf("malformed key of length %d", len(k))
			}
			vec, err := domain.DecodeVector(v)
			if err != nil {
				return err
			}
			vectors[decodeID(k)] = vec
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

// Save replaces the bucket contents with vectors in one write transaction.
func (m *BoltMirror) Save(vectors map[int64][]float32) error {
	return m.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketVectors); err != nil {
			return err
		}
		b, err := tx.CreateBucket(bucketVectors)
		if err != nil {
			return err
		}

		for id, vec := range vectors {
			if len(vec) != m.dimension {
				return fmt.Errorf("vector for chunk %d has dimension %d, expected %d", id, len(vec), m.dimension)
			}
			if err := b.Put(encodeID(id), domain.EncodeVector(vec)); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketMeta).Put(keyDimension, encodeID(int64(m.dimension)))
	})
}

func (m *BoltMirror) Close() error {
	return m.db.Close()
}

func encodeID(id int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

func decodeID(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}
