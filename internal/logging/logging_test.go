package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesToFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "worker.log")

	logger, closer, err := New("worker ", Options{File: file})
	require.NoError(t, err)

	logger.Printf("engine: run finished")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "worker ")
	assert.Contains(t, string(data), "engine: run finished")
}

func TestNew_StdoutOnly(t *testing.T) {
	logger, closer, err := New("api ", Options{})
	require.NoError(t, err)
	assert.Equal(t, "api ", logger.Prefix())
	assert.NoError(t, closer.Close())
}
