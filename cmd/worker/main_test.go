package main

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestTaskLoggerWritesThroughZerolog(t *testing.T) {
	var buf bytes.Buffer
	l := taskLogger{logger: zerolog.New(&buf)}
	l.Warn("lease expired for ", "task-1")
	require.Contains(t, buf.String(), `"level":"warn"`)
	require.Contains(t, buf.String(), "lease expired for task-1")
}
