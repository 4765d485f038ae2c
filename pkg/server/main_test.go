package server

import (
	"io"
	"log"
	"os"
	"testing"
)

func TestMain(m *testing.M) {
	// Keep test output readable: the package loggers are chatty at the
	// per-frame level and the tests assert on frames, not on log lines.
	log.SetOutput(io.Discard)
	errorLog.SetOutput(io.Discard)
	debugLog.SetOutput(io.Discard)

	os.Exit(m.Run())
}
