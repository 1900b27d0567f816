// Package simstate keeps the paper exchange on disk so a restart resumes with
// the same wallet, resting orders and fills.
package simstate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	DefaultDir = "./wal/simulate"

	fileName = "exchange.json"
	version  = 1
)

// State is one snapshot of the paper exchange.
type State struct {
	Version int                        `json:"version"`
	SavedAt time.Time                  `json:"saved_at"`
	Wallet  map[string]decimal.Decimal `json:"wallet"`
	Orders  []StoredOrder              `json:"orders"`
	Trades  []StoredTrade              `json:"trades"`
	LastSeq int64                      `json:"last_seq"`
}

// StoredOrder is a resting limit order and the funds it holds back.
type StoredOrder struct {
	ID       string          `json:"id"`
	Pair     string          `json:"pair"`
	Side     string          `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Reserved decimal.Decimal `json:"reserved"`
	Created  time.Time       `json:"created"`
}

type StoredTrade struct {
	ID       string          `json:"id"`
	OrderID  string          `json:"order_id"`
	Pair     string          `json:"pair"`
	Side     string          `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Time     time.Time       `json:"time"`
}

// Store reads and writes the snapshot file. A nil *Store keeps nothing.
type Store struct {
	dir string
}

// NewStore creates dir if needed. An empty dir means DefaultDir.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "create simulate state dir %s", dir)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path() string { return filepath.Join(s.dir, fileName) }

// Load returns the last snapshot, or nil when nothing was saved yet.
func (s *Store) Load() (*State, error) {
	if s == nil {
		return nil, nil
	}

	raw, err := os.ReadFile(s.path())
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, errors.Wrap(err, "read simulate state")
	case len(raw) == 0:
		return nil, nil
	}

	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, errors.Wrapf(err, "decode simulate state %s", s.path())
	}
	if st.Version != version {
		return nil, errors.Errorf("simulate state %s has version %d, expected %d", s.path(), st.Version, version)
	}

	return &st, nil
}

// Save replaces the snapshot. The new file is synced before it is renamed over
// the old one, so a crash leaves either snapshot intact.
func (s *Store) Save(st State) error {
	if s == nil {
		return nil
	}
	st.Version = version
	st.SavedAt = time.Now().UTC()

	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode simulate state")
	}

	f, err := os.CreateTemp(s.dir, fileName+".*")
	if err != nil {
		return errors.Wrap(err, "create simulate state temp file")
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(raw); err != nil {
		f.Close()
		return errors.Wrap(err, "write simulate state")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrap(err, "sync simulate state")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close simulate state")
	}

	return errors.Wrap(os.Rename(f.Name(), s.path()), "replace simulate state")
}
