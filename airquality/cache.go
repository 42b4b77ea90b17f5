package airquality

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/TheCacophonyProject/tc2-hat-sensors/logging"
)

var log = logging.NewLogger("info")

var (
	ErrCacheStale   = errors.New("gas baseline cache is too old")
	ErrCacheInvalid = errors.New("gas baseline cache is invalid")
)

type cacheRecord struct {
	GasBaseline *float64 `json:"gas_baseline"`
	Timestamp   *float64 `json:"timestamp"`
}

// Cache persists a gas baseline with the time it was computed.
type Cache struct {
	Path     string
	MaxAge   time.Duration
	ReadOnly bool
}

// Load returns the cached baseline if the file is valid and no older than MaxAge.
func (c Cache) Load(now time.Time) (float64, error) {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return 0, err
	}
	var rec cacheRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCacheInvalid, err)
	}
	if rec.GasBaseline == nil || rec.Timestamp == nil {
		return 0, fmt.Errorf("%w: missing fields", ErrCacheInvalid)
	}
	if !finite(*rec.GasBaseline) || *rec.GasBaseline <= 0 {
		return 0, fmt.Errorf("%w: baseline %v", ErrCacheInvalid, *rec.GasBaseline)
	}
	age := unixSeconds(now) - *rec.Timestamp
	if age > c.MaxAge.Seconds() {
		return 0, fmt.Errorf("%w: %.0fs old", ErrCacheStale, age)
	}
	return *rec.GasBaseline, nil
}

// Save writes the baseline stamped with now. It does nothing when ReadOnly.
func (c Cache) Save(baseline float64, now time.Time) error {
	if c.ReadOnly {
		return nil
	}
	ts := unixSeconds(now)
	data, err := json.MarshalIndent(cacheRecord{GasBaseline: &baseline, Timestamp: &ts}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.Path), 0755); err != nil {
		return err
	}
	tmp := c.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, c.Path)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
