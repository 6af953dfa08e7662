package websocket

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestConsoleLogger(t *testing.T) {
	// color.NoColor is package state
	noColor := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = noColor }()

	var buf bytes.Buffer
	logger := NewConsoleLogger(&buf, false)

	logger.Debugf("hidden %d", 1)
	logger.Infof("listening on %s", ":8080")
	logger.Errorf("connection %s: %v", "abc", "reset")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if assert.Len(t, lines, 2) {
		assert.Contains(t, lines[0], "[INFO] listening on :8080")
		assert.Contains(t, lines[1], "[ERROR] connection abc: reset")
	}

	buf.Reset()
	NewConsoleLogger(&buf, true).Debugf("visible")
	assert.Contains(t, buf.String(), "[DEBUG] visible")
}

func TestNopLogger(t *testing.T) {
	t.Parallel()

	logger := NopLogger()
	assert.NotPanics(t, func() {
		logger.Debugf("x")
		logger.Infof("x")
		logger.Errorf("x")
	})
}
