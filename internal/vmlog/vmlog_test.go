package vmlog_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"babevm/internal/vmlog"
)

func TestLogBelowMinimumIsSuppressed(t *testing.T) {
	var buf bytes.Buffer
	l := vmlog.New(&buf, vmlog.Warning)
	l.Info("should not appear")
	require.Empty(t, buf.String())
}

func TestLogAtOrAboveMinimumIsWritten(t *testing.T) {
	var buf bytes.Buffer
	l := vmlog.New(&buf, vmlog.Info)
	l.Warning("heap low")
	require.Contains(t, buf.String(), "WARNING")
	require.Contains(t, buf.String(), "heap low")
}

func TestLogfFormats(t *testing.T) {
	var buf bytes.Buffer
	l := vmlog.New(&buf, vmlog.Trace)
	l.Logf(vmlog.Error, "chunk %d invalid", 42)
	require.True(t, strings.Contains(buf.String(), "chunk 42 invalid"))
}

func TestSetMinSeverityRaisesFilter(t *testing.T) {
	var buf bytes.Buffer
	l := vmlog.New(&buf, vmlog.Trace)
	l.SetMinSeverity(vmlog.Error)
	l.Info("quiet now")
	require.Empty(t, buf.String())
}
