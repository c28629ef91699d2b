package checkpoint

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects when delivered messages are checkpointed.
type Mode int

const (
	// Record checkpoints every message right after the handler returns.
	Record Mode = iota
	// Batch checkpoints once BatchCount messages were delivered for a key.
	Batch
	// Manual leaves checkpointing to the application.
	Manual
)

func (m Mode) String() string {
	switch m {
	case Record:
		return "record"
	case Batch:
		return "batch"
	case Manual:
		return "manual"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts "record", "batch" or "manual" in any case.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "record":
		return Record, nil
	case "batch":
		return Batch, nil
	case "manual":
		return Manual, nil
	default:
		return 0, fmt.Errorf("checkpoint: unknown mode %q", s)
	}
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Config is fixed for the lifetime of an adapter.
type Config struct {
	Mode       Mode `koanf:"mode" yaml:"mode"`
	BatchCount int  `koanf:"batch_count" yaml:"batch_count"`
}

var errBatchCount = errors.New("checkpoint: batch mode needs batch_count >= 1")

func (c Config) Validate() error {
	switch c.Mode {
	case Record, Manual:
		return nil
	case Batch:
		if c.BatchCount < 1 {
			return errBatchCount
		}
		return nil
	default:
		return fmt.Errorf("checkpoint: invalid mode %d", int(c.Mode))
	}
}
