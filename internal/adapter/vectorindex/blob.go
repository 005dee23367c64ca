package vectorindex

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"localrag/internal/adapter/fs"
	"localrag/internal/domain"
)

// Blob file layout, all little-endian:
//
//	magic   [4]byte "LRVI"
//	version uint32
//	dim     uint32
//	count   uint64
//	count x { chunk_id int64, dim x float32 }
var blobMagic = [4]byte{'L', 'R', 'V', 'I'}

const blobVersion = 1

// BlobMirror stores the whole index in a single file, replaced atomically
// on every save.
type BlobMirror struct {
	path      string
	dimension int
}

func NewBlobMirror(path string, dimension int) *BlobMirror {
	return &BlobMirror{path: path, dimension: dimension}
}

type blobHeader struct {
	Magic   [4]byte
	Version uint32
	Dim     uint32
	Count   uint64
}

// Load returns an empty map when the file does not exist.
func (m *BlobMirror) Load() (map[int64][]float32, error) {
	f, err := os.Open(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[int64][]float32{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var hdr blobHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("reading header of %s: %w", m.path, err)
	}
	if hdr.Magic != blobMagic {
		return nil, fmt.Errorf("%s is not a vector index file", m.path)
	}
	if hdr.Version != blobVersion {
		return nil, fmt.Errorf("%s has unsupported version %d", m.path, hdr.Version)
	}
	if int(hdr.Dim) != m.dimension {
		return nil, fmt.Errorf("%s has dimension %d, expected %d", m.path, hdr.Dim, m.dimension)
	}

	vectors := make(map[int64][]float32, hdr.Count)
	buf := make([]byte, 4*m.dimension)
	for i := uint64(0); i < hdr.Count; i++ {
		var id int64
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return nil, fmt.Errorf("reading entry %d of %s: %w", i, m.path, err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("reading entry %d of %s: %w", i, m.path, err)
		}
		vec, err := domain.DecodeVector(buf)
		if err != nil {
			return nil, err
		}
		vectors[id] = vec
	}
	return vectors, nil
}

func (m *BlobMirror) Save(vectors map[int64][]float32) error {
	ids := make([]int64, 0, len(vectors))
	for id := range vectors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return fs.WriteFileAtomic(m.path, func(w io.Writer) error {
		hdr := blobHeader{Magic: blobMagic, Version: blobVersion, Dim: uint32(m.dimension), Count: uint64(len(ids))}
		if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
			return err
		}
		for _, id := range ids {
			vec := vectors[id]
			if len(vec) != m.dimension {
				return fmt.Errorf("vector for chunk %d has dimension %d, expected %d", id, len(vec), m.dimension)
			}
			if err := binary.Write(w, binary.LittleEndian, id); err != nil {
				return err
			}
			if _, err := w.Write(domain.EncodeVector(vec)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *BlobMirror) Close() error {
	return nil
}
