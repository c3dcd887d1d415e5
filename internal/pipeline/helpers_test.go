package pipeline

import (
	"os"
	"time"
)

const (
	timeout = 5 * time.Second
	tick    = 10 * time.Millisecond
)

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func timeAfter() <-chan time.Time { return time.After(timeout) }
