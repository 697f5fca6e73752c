package logs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRotatingWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "posync.log")

	l := NewRotating(path, false, Rotation{MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1})
	l.Info().Str("component", "test").Msg("hello")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"component":"test"`)
	assert.Contains(t, string(raw), `"message":"hello"`)
}
