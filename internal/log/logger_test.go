package log

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestGlobalLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, globalLevel(false, ""))
	assert.Equal(t, zerolog.InfoLevel, globalLevel(true, ""))
	assert.Equal(t, zerolog.WarnLevel, globalLevel(true, "warn"))
	assert.Equal(t, zerolog.InfoLevel, globalLevel(true, "loud"))
}

func TestLoggerTagsServiceAndEnvironment(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.DebugLevel) })
	var out bytes.Buffer

	logger := NewWithWriter(&out, "production", "warn")
	logger.Info().Msg("quiet")
	assert.Empty(t, out.String())

	logger.Warn().Str("user_id", "u1").Msg("loud")
	line := out.String()
	assert.Contains(t, line, "loud")
	assert.Contains(t, line, "service=facesync")
	assert.Contains(t, line, "env=production")
	assert.Contains(t, line, "user_id=u1")
}
