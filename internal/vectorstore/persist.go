package vectorstore

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"course-rag/internal/models"
)

const (
	indexExt    = ".index"
	metadataExt = ".metadata"
	idsExt      = ".ids"

	indexVersion uint16 = 1
	flagZstd     uint16 = 1 << 0
)

var indexMagic = [4]byte{'C', 'R', 'V', 'I'}

// indexHeader is the fixed little-endian prefix of a .index file. The rows
// follow as count*dim float32 values, zstd-compressed when flagZstd is set.
type indexHeader struct {
	Magic   [4]byte
	Version uint16
	Flags   uint16
	Dim     uint32
	Count   uint32
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// safeName maps a namespace to its file stem.
func safeName(namespace string) string {
	return strings.NewReplacer("/", "_", " ", "_").Replace(namespace)
}

type paths struct {
	index, metadata, ids string
}

func pathsFor(dir, namespace string) paths {
	base := filepath.Join(dir, safeName(namespace))
	return paths{index: base + indexExt, metadata: base + metadataExt, ids: base + idsExt}
}

func encodeIndex(ix *flatIndex, compress bool) ([]byte, error) {
	payload := make([]byte, 4*len(ix.data))
	for i, f := range ix.data {
		binary.LittleEndian.PutUint32(payload[4*i:], math.Float32bits(f))
	}

	h := indexHeader{Magic: indexMagic, Version: indexVersion, Dim: uint32(ix.dim), Count: uint32(ix.Len())}
	if compress {
		h.Flags |= flagZstd
		payload = zstdEncoder.EncodeAll(payload, nil)
	}

	var buf bytes.Buffer
	buf.Grow(binary.Size(h) + len(payload))
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		return nil, err
	}
	buf.Write(payload)
	return buf.Bytes(), nil
}

func decodeIndex(data []byte) (*flatIndex, error) {
	var h indexHeader
	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorruptIndex, err)
	}
	if h.Magic != indexMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorruptIndex, h.Magic[:])
	}
	if h.Version != indexVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptIndex, h.Version)
	}

	payload := data[binary.Size(h):]
	if h.Flags&flagZstd != 0 {
		var err error
		payload, err = zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress: %v", ErrCorruptIndex, err)
		}
	}

	n := int(h.Dim) * int(h.Count)
	if len(payload) != 4*n {
		return nil, fmt.Errorf("%w: want %d bytes of rows, have %d", ErrCorruptIndex, 4*n, len(payload))
	}
	ix := &flatIndex{dim: int(h.Dim), data: make([]float32, n)}
	for i := range ix.data {
		ix.data[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[4*i:]))
	}
	return ix, nil
}

// save writes the three files of c. Each file is replaced atomically; the
// triplet as a whole is not.
func (c *Collection) save(dir string, compress bool) error {
	p := pathsFor(dir, c.name)

	index, err := encodeIndex(c.index, compress)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	metadata, err := msgpack.Marshal(c.metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	ids, err := json.MarshalIndent(c.ids, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ids: %w", err)
	}
	if c.ids == nil {
		ids = []byte("[]")
	}

	if err := writeFileAtomic(p.index, index); err != nil {
		return err
	}
	if err := writeFileAtomic(p.metadata, metadata); err != nil {
		return err
	}
	return writeFileAtomic(p.ids, ids)
}

func loadCollection(dir, namespace string) (*Collection, error) {
	p := pathsFor(dir, namespace)

	data, err := os.ReadFile(p.index)
	if err != nil {
		return nil, err
	}
	index, err := decodeIndex(data)
	if err != nil {
		return nil, err
	}

	c := newCollection(namespace, index.dim)
	c.index = index

	if data, err = os.ReadFile(p.metadata); err != nil {
		return nil, err
	}
	if err := msgpack.Unmarshal(data, &c.metadata); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrCorruptIndex, err)
	}
	if c.metadata == nil {
		c.metadata = make(map[string]models.Metadata)
	}

	if data, err = os.ReadFile(p.ids); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &c.ids); err != nil {
		return nil, fmt.Errorf("%w: ids: %v", ErrCorruptIndex, err)
	}

	if len(c.ids) != index.Len() || len(c.metadata) != len(c.ids) {
		return nil, fmt.Errorf("%w: %d ids, %d vectors, %d metadata entries",
			ErrCorruptIndex, len(c.ids), index.Len(), len(c.metadata))
	}
	for _, id := range c.ids {
		if _, ok := c.metadata[id]; !ok {
			return nil, fmt.Errorf("%w: id %s has no metadata", ErrCorruptIndex, id)
		}
	}
	return c, nil
}

func removeFiles(dir, namespace string) error {
	p := pathsFor(dir, namespace)
	var errs []error
	for _, path := range []string{p.index, p.metadata, p.ids} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func writeFileAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
