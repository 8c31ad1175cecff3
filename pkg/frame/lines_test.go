package frame

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineReader_SplitAcrossFeeds(t *testing.T) {
	var r LineReader

	assert.Empty(t, r.Feed([]byte("INFO.")))
	assert.Empty(t, r.Feed([]byte("DEV")))
	assert.Equal(t, []string{"INFO.DEV"}, r.Feed([]byte("\n")))
}

func TestLineReader_CRLFAndEmptyLines(t *testing.T) {
	var r LineReader

	lines := r.Feed([]byte("EEPROM.DUMP 0 16\r\n\r\n\nINFO.DEV\r\n"))
	assert.Equal(t, []string{"EEPROM.DUMP 0 16", "INFO.DEV"}, lines)
}

func TestLineReader_OversizeLineResetsAccumulator(t *testing.T) {
	var r LineReader

	// Hitting the buffer limit drops everything accumulated so far; the
	// tail of the oversize line re-accumulates and surfaces as an
	// unrecognizable command, which the dispatcher rejects.
	assert.Empty(t, r.Feed([]byte(strings.Repeat("X", 200))))
	lines := r.Feed([]byte("\n"))
	assert.Equal(t, []string{strings.Repeat("X", 200-MaxCommandLen)}, lines)

	// The reader is clean for the next command.
	assert.Equal(t, []string{"INFO.DEV"}, r.Feed([]byte("INFO.DEV\n")))
}

func TestLineReader_MaxLengthCommandSurvives(t *testing.T) {
	var r LineReader

	cmd := strings.Repeat("A", MaxCommandLen-1)
	lines := r.Feed([]byte(cmd + "\n"))
	assert.Equal(t, []string{cmd}, lines)
}
