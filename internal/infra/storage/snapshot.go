package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"parcmarket/internal/domain"
)

const (
	flagsFile = "permanent_flags.json"
	stateFile = "price_state.json"
)

// Snapshot persists the flag set and price state as plain JSON files with
// atomic replace semantics: each save writes a temp file and renames it over
// the previous snapshot, so a crash mid-write never corrupts the last good one.
// Both formats are load-bearing across restarts and must stay stable.
type Snapshot struct {
	dir string
}

// NewSnapshot prepares the snapshot directory.
func NewSnapshot(dir string) (*Snapshot, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &domain.PersistenceError{Op: "mkdir", Err: err}
	}
	return &Snapshot{dir: dir}, nil
}

// flagsDoc mirrors the on-disk flag file. Ids are stored as strings so the
// format survives id-type changes.
type flagsDoc struct {
	Transactions []string `json:"transactions"`
}

// stateDoc mirrors the on-disk price state file.
type stateDoc struct {
	BasePrice float64   `json:"base_price"`
	MinPrice  float64   `json:"min_price"`
	MaxPrice  float64   `json:"max_price"`
	SavedAt   time.Time `json:"saved_at"`
}

// SaveFlags writes the permanent flag set.
func (s *Snapshot) SaveFlags(ids []uint) error {
	doc := flagsDoc{Transactions: make([]string, 0, len(ids))}
	for _, id := range ids {
		doc.Transactions = append(doc.Transactions, strconv.FormatUint(uint64(id), 10))
	}
	if err := s.writeAtomic(flagsFile, doc); err != nil {
		return &domain.PersistenceError{Op: "save_flags", Err: err}
	}
	return nil
}

// LoadFlags reads the permanent flag set; a missing file yields an empty set.
func (s *Snapshot) LoadFlags() ([]uint, error) {
	var doc flagsDoc
	if err := s.readJSON(flagsFile, &doc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &domain.PersistenceError{Op: "load_flags", Err: err}
	}
	ids := make([]uint, 0, len(doc.Transactions))
	for _, raw := range doc.Transactions {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			// Skip malformed entries rather than dropping the whole set.
			continue
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}

// SaveState writes the price band snapshot.
func (s *Snapshot) SaveState(band domain.PriceBand, at time.Time) error {
	doc := stateDoc{
		BasePrice: band.Base,
		MinPrice:  band.Min,
		MaxPrice:  band.Max,
		SavedAt:   at,
	}
	if err := s.writeAtomic(stateFile, doc); err != nil {
		return &domain.PersistenceError{Op: "save_state", Err: err}
	}
	return nil
}

// LoadState reads the price band snapshot; ok is false when none exists.
func (s *Snapshot) LoadState() (domain.PriceBand, bool, error) {
	var doc stateDoc
	if err := s.readJSON(stateFile, &doc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.PriceBand{}, false, nil
		}
		return domain.PriceBand{}, false, &domain.PersistenceError{Op: "load_state", Err: err}
	}
	if doc.BasePrice <= 0 {
		return domain.PriceBand{}, false, nil
	}
	return domain.PriceBand{Base: doc.BasePrice, Min: doc.MinPrice, Max: doc.MaxPrice}, true, nil
}

func (s *Snapshot) writeAtomic(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	final := filepath.Join(s.dir, name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

func (s *Snapshot) readJSON(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
