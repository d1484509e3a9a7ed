// Package catalog maintains the grouped, deduplicated publication catalog
// and is the only component permitted to mutate or serialize it.
package catalog

import (
	"encoding/json"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultYearCutoff is the year below which publications collapse into the
// "older" bucket.
const DefaultYearCutoff = 2022

// OlderKey is the sentinel group key for pre-cutoff and unparseable years.
const OlderKey = "older"

// YearKey is a catalog group key: either a numeric year or the "older"
// sentinel. It round-trips through JSON as a number or the string "older".
type YearKey struct {
	Year  int
	Older bool
}

// NumericKey returns a YearKey for a concrete year.
func NumericKey(year int) YearKey { return YearKey{Year: year} }

// OlderYearKey returns the sentinel catch-all key.
func OlderYearKey() YearKey { return YearKey{Older: true} }

func (k YearKey) String() string {
	if k.Older {
		return OlderKey
	}
	return strconv.Itoa(k.Year)
}

// MarshalJSON emits a bare number for numeric keys and "older" for the
// sentinel, matching the catalog artifact format.
func (k YearKey) MarshalJSON() ([]byte, error) {
	if k.Older {
		return json.Marshal(OlderKey)
	}
	return json.Marshal(k.Year)
}

// UnmarshalJSON accepts a number or the string "older".
func (k *YearKey) UnmarshalJSON(data []byte) error {
	var year int
	if err := json.Unmarshal(data, &year); err == nil {
		*k = YearKey{Year: year}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return eris.Wrap(err, "catalog: decode year key")
	}
	if s != OlderKey {
		return eris.Errorf("catalog: unexpected year key %q", s)
	}
	*k = YearKey{Older: true}
	return nil
}

// Publication is one catalog record. Immutable once written except by an
// explicit re-merge.
type Publication struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	URL    string `json:"url"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

// YearGroup partitions the catalog by publication year.
type YearGroup struct {
	Year         YearKey       `json:"year"`
	Publications []Publication `json:"publications"`
}

// Catalog is the persisted, ordered list of year groups.
type Catalog []YearGroup

// Load reads a catalog file. A missing file yields an empty catalog, not an
// error: first runs start from nothing.
func Load(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		zap.L().Info("catalog: no existing file, starting fresh", zap.String("path", path))
		return Catalog{}, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}

	var cat Catalog
	if err := json.Unmarshal(data, &cat); err != nil {
		return nil, eris.Wrapf(err, "catalog: parse %s", path)
	}
	return cat, nil
}

// Save sorts the catalog and writes it to path, preserving any existing file
// as a timestamped backup first. The backup is the recovery artifact when a
// run is interrupted mid-write.
func Save(cat Catalog, path string) error {
	Sort(cat)

	if _, err := os.Stat(path); err == nil {
		backup := path + ".backup." + time.Now().Format("20060102_150405")
		if err := os.Rename(path, backup); err != nil {
			return eris.Wrapf(err, "catalog: back up %s", path)
		}
		zap.L().Info("catalog: created backup", zap.String("backup", backup))
	}

	data, err := json.MarshalIndent(cat, "", "  ")
	if err != nil {
		return eris.Wrap(err, "catalog: encode")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "catalog: write %s", path)
	}

	zap.L().Info("catalog: saved", zap.String("path", path), zap.Int("groups", len(cat)))
	return nil
}

// Sort orders groups newest year first with the "older" bucket last. The
// source system sorted "older" before every numeric year; that read as an
// accident, so the order is corrected here (see DESIGN.md).
func Sort(cat Catalog) {
	sort.SliceStable(cat, func(i, j int) bool {
		a, b := cat[i].Year, cat[j].Year
		switch {
		case a.Older:
			return false
		case b.Older:
			return true
		default:
			return a.Year > b.Year
		}
	})
}
