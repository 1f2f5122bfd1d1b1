package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiffRegionNoChange(t *testing.T) {
	screen := []string{"$ ls", "file.txt", "$"}
	assert.Nil(t, diffRegion(screen, screen))
	assert.Nil(t, diffRegion(nil, nil))
}

func TestDiffRegionSingleLine(t *testing.T) {
	prev := []string{"$ ", "", ""}
	next := []string{"$ ls", "", ""}
	assert.Equal(t, []byte("$ ls\r\n"), diffRegion(prev, next))
}

func TestDiffRegionContiguousSpan(t *testing.T) {
	prev := []string{"line0", "line1", "line2", "line3"}
	next := []string{"line0", "LINE1", "line2", "LINE3"}
	// The span runs from the first changed line through the last, carrying
	// the unchanged line in between.
	assert.Equal(t, []byte("LINE1\r\nline2\r\nLINE3\r\n"), diffRegion(prev, next))
}

func TestDiffRegionAppendedLines(t *testing.T) {
	prev := []string{"$ make"}
	next := []string{"$ make", "compiling", "done"}
	assert.Equal(t, []byte("compiling\r\ndone\r\n"), diffRegion(prev, next))
}

func TestDiffRegionFirstSnapshot(t *testing.T) {
	next := []string{"$"}
	assert.Equal(t, []byte("$\r\n"), diffRegion(nil, next))
}

func TestDiffRegionScreenCleared(t *testing.T) {
	prev := []string{"old output", "more output"}
	next := []string{"", ""}
	assert.Equal(t, []byte("\r\n\r\n"), diffRegion(prev, next))
}
