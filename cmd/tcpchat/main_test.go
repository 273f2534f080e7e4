package main

import (
	"bytes"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func noEnv(string) string { return "" }

func TestRunHelpExitsZero(t *testing.T) {
	var stderr bytes.Buffer
	require.Equal(t, 0, run([]string{"-help"}, noEnv, &stderr))
	require.Contains(t, stderr.String(), "-max-clients")
}

func TestRunRejectsBadFlags(t *testing.T) {
	var stderr bytes.Buffer
	require.Equal(t, 2, run([]string{"-framing", "json"}, noEnv, &stderr))
	require.Contains(t, stderr.String(), "unknown framing")
}

func TestRunReportsBindFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	port := strconv.Itoa(busy.Addr().(*net.TCPAddr).Port)
	var stderr bytes.Buffer
	code := run([]string{"-host", "127.0.0.1", "-port", port, "-log-level", "error"}, noEnv, &stderr)
	require.Equal(t, 1, code)
}
