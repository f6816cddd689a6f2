// Package checkpoint persists run state as zstd-compressed JSON records
// in two slots: latest (every epoch) and best (improving epochs only).
package checkpoint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

var (
	// ErrNotFound means the checkpoint path does not exist. The only
	// recoverable error in the taxonomy: resume degrades to a fresh run.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrCorrupt means the file exists but cannot be decoded into a
	// well-formed record. Always fatal.
	ErrCorrupt = errors.New("checkpoint corrupt")

	// ErrWrite means the record could not be durably persisted.
	ErrWrite = errors.New("checkpoint write failed")
)

// Record is the durable per-epoch artifact. ModelState is an opaque
// blob owned by the compute collaborator; the store only round-trips it.
type Record struct {
	EpochCompleted int     `json:"epoch_completed"`
	Arch           string  `json:"arch"`
	ModelState     []byte  `json:"model_state"`
	BestValLoss    float64 `json:"best_val_loss"`
}

type Store struct{}

func NewStore() *Store {
	return &Store{}
}

// Save overwrites latestPath with the record and, when isBest, copies
// the same content to bestPath. Both writes go through a temp file and
// rename so a crash mid-write can never leave a slot holding a record
// that disagrees with its own epoch field.
func (s *Store) Save(rec Record, isBest bool, latestPath, bestPath string) error {
	data, err := encode(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := writeAtomic(latestPath, data); err != nil {
		return fmt.Errorf("%w: latest slot: %v", ErrWrite, err)
	}
	if isBest {
		if err := writeAtomic(bestPath, data); err != nil {
			return fmt.Errorf("%w: best slot: %v", ErrWrite, err)
		}
	}
	return nil
}

// Load reads a record back. ErrNotFound when the path is absent,
// ErrCorrupt when the blob does not decode into a well-formed record.
func (s *Store) Load(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return Record{}, fmt.Errorf("failed to read checkpoint %s: %w", path, err)
	}

	rec, err := decode(data)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return rec, nil
}

func encode(rec Record) ([]byte, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := enc.Write(payload); err != nil {
		enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (Record, error) {
	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return Record{}, err
	}
	defer dec.Close()

	payload, err := io.ReadAll(dec)
	if err != nil {
		return Record{}, err
	}

	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Record{}, err
	}
	if rec.EpochCompleted < 0 {
		return Record{}, fmt.Errorf("negative epoch %d", rec.EpochCompleted)
	}
	if rec.Arch == "" {
		return Record{}, errors.New("missing architecture id")
	}
	return rec, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
