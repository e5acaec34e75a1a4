package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileRecorder appends entries as JSON lines to a size-rotated file.
type FileRecorder struct {
	out *lumberjack.Logger
}

// NewFileRecorder writes to path, rotating after maxSizeMB and keeping
// maxBackups compressed files.
func NewFileRecorder(path string, maxSizeMB, maxBackups int) *FileRecorder {
	return &FileRecorder{out: &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	}}
}

// Record writes e as one line. lumberjack serializes concurrent writes.
func (r *FileRecorder) Record(_ context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	if _, err := r.out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

func (r *FileRecorder) Close() error {
	return r.out.Close()
}
