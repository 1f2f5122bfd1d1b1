package ids

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHostIDShape(t *testing.T) {
	pattern := regexp.MustCompile(`^[a-z]+-[a-z]+-\d{4}$`)
	for i := 0; i < 50; i++ {
		id := HostID()
		assert.Regexp(t, pattern, id)
	}
}

func TestClientIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := ClientID()
		assert.True(t, strings.HasPrefix(id, "client-"))
		assert.False(t, seen[id], "client IDs must not repeat")
		seen[id] = true
	}
}
