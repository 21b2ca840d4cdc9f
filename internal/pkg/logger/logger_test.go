package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(DEBUG)
	SetRedactPII(true)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(INFO)
		SetRedactPII(true)
	})
	return &buf
}

func TestLog_RedactsEmailFields(t *testing.T) {
	buf := capture(t)

	Info("account created", "email", "john.doe@example.com", "username", "johnny", "error", "duplicate key for ab@x.io")

	var entry map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "jo***@example.com", entry["email"])
	assert.Equal(t, "j***", entry["username"])
	assert.Equal(t, "duplicate key for ***@x.io", entry["error"])
}

func TestLog_LevelThreshold(t *testing.T) {
	buf := capture(t)
	SetLevel(WARN)

	Info("dropped")
	Warn("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "kept")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("warning"))
	assert.Equal(t, ERROR, ParseLevel("ERROR"))
	assert.Equal(t, INFO, ParseLevel("bogus"))
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("nonsense"))
}

func TestLog_RedactionDisabled(t *testing.T) {
	buf := capture(t)
	SetRedactPII(false)

	Info("account created", "email", "john.doe@example.com")

	assert.Contains(t, buf.String(), "john.doe@example.com")
}

func TestRedactUsername(t *testing.T) {
	assert.Equal(t, "a***", RedactUsername("alice"))
	assert.Equal(t, "é***", RedactUsername("élodie"))
	assert.Equal(t, "", RedactUsername(""))
}
