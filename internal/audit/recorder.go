package audit

import (
	"context"
	"fmt"
	"time"
)

type Kind string

const (
	KindScore       Kind = "score"
	KindTransaction Kind = "transaction"
	KindLending     Kind = "lending"
)

// Entry is one audited event.
type Entry struct {
	Kind         Kind      `json:"kind"`
	Wallet       string    `json:"wallet"`
	Tier         string    `json:"tier,omitempty"`
	NumericScore *int      `json:"numericScore,omitempty"`
	ModelVersion string    `json:"modelVersion,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Detail       string    `json:"detail,omitempty"`
}

// Recorder persists audit entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
	Close() error
}

// Sink names accepted by Open.
const (
	SinkNone   = "none"
	SinkFile   = "file"
	SinkSQLite = "sqlite"
)

// Open builds the recorder for sink. An empty sink means none.
func Open(sink, path string) (Recorder, error) {
	switch sink {
	case "", SinkNone:
		return Noop{}, nil
	case SinkFile:
		if path == "" {
			path = "credora-audit.jsonl"
		}
		return NewFileRecorder(path, 50, 5), nil
	case SinkSQLite:
		if path == "" {
			path = "credora-audit.db"
		}
		return NewSQLiteRecorder(path)
	default:
		return nil, fmt.Errorf("unknown audit sink %q", sink)
	}
}

// Noop discards entries.
type Noop struct{}

func (Noop) Record(context.Context, Entry) error { return nil }
func (Noop) Close() error                        { return nil }
