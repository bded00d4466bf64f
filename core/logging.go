package core

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"
)

// MaxLogSize is the size at which an existing log file is rotated on startup
const MaxLogSize = 10 * 1024 * 1024

// SetupLogging routes the standard logger to dir/name when debug is set and
// discards it otherwise; stdout and stderr stay clean for the terminal renderer
// Returns the open file for the caller to close, nil when disabled or on failure
func SetupLogging(dir, name string, debug bool) *os.File {
	if !debug {
		log.SetOutput(io.Discard)
		return nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		log.SetOutput(io.Discard)
		return nil
	}

	path := filepath.Join(dir, name)
	if info, err := os.Stat(path); err == nil && info.Size() > MaxLogSize {
		ext := filepath.Ext(name)
		rotated := filepath.Join(dir, fmt.Sprintf("%s-%s%s",
			name[:len(name)-len(ext)], time.Now().Format("20060102-150405"), ext))
		os.Rename(path, rotated)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.SetOutput(io.Discard)
		return nil
	}

	log.SetOutput(f)
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("---- %s started, pid %d ----", name, os.Getpid())
	return f
}
