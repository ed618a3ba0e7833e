package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevels(t *testing.T) {
	log, closeFn, err := New("", "")
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
	require.NoError(t, closeFn())

	log, _, err = New("DEBUG", "")
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	_, _, err = New("chatty", "")
	require.Error(t, err)
}

func TestNewWritesFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "service.log")
	log, closeFn, err := New("info", p)
	require.NoError(t, err)
	log.WithField("uid", "node-1").Info("registered")
	require.NoError(t, closeFn())

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(b), "registered")
	assert.Contains(t, string(b), "uid=node-1")
}
