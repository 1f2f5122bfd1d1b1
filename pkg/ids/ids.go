// Package ids generates the identifiers used across the relay: memorable
// host IDs for operators to type, opaque unique client IDs for the broker.
package ids

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

var adjectives = []string{
	"cozy", "brisk", "bright", "calm", "curious", "eager", "gentle", "lively", "nimble", "quiet", "steady", "swift",
}

var nouns = []string{
	"tiger", "otter", "lynx", "falcon", "whale", "panther", "eagle", "sparrow", "orca", "fox", "badger", "hare",
}

// HostID returns human friendly IDs like cozy-tiger-4829, used when a host
// config does not pin one.
func HostID() string {
	number := randomInt(9000) + 1000
	return fmt.Sprintf("%s-%s-%04d", adjectives[randomInt(len(adjectives))], nouns[randomInt(len(nouns))], number)
}

// ClientID returns a relay-assigned client identifier, unique per process
// lifetime and beyond.
func ClientID() string {
	return "client-" + uuid.NewString()
}

func randomInt(max int) int {
	if max <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0
	}
	return int(n.Int64())
}
