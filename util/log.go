package util

import (
	"strings"
	"testing"

	"github.com/go-kit/log"
)

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// TestLogger returns a logger routing through t.Log so output is attached to
// the test that produced it.
func TestLogger(t testing.TB) log.Logger {
	return log.NewLogfmtLogger(log.NewSyncWriter(testWriter{t: t}))
}
