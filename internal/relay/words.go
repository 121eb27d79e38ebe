package relay

import (
	"crypto/rand"
	"math/big"
	"strings"
)

var (
	roomAdjectives = []string{
		"amber", "brisk", "calm", "dusky", "eager", "fuzzy", "gentle", "hazy", "icy", "jolly",
		"keen", "lucky", "mellow", "nimble", "odd", "plucky", "quiet", "rusty", "sunny", "tidy",
	}
	roomNouns = []string{
		"anchor", "badger", "comet", "dune", "ember", "falcon", "glacier", "harbor", "island", "jigsaw",
		"kettle", "lantern", "meadow", "nebula", "orchid", "pebble", "quartz", "river", "summit", "tundra",
	}
	roomVerbs = []string{
		"drifts", "glows", "hums", "leaps", "roams", "sings", "spins", "waits", "wanders", "whistles",
	}
)

// newRoomID returns a memorable id such as "calm-harbor-hums" that taken
// does not report as in use.
func newRoomID(taken func(string) bool) string {
	for {
		id := strings.Join([]string{pick(roomAdjectives), pick(roomNouns), pick(roomVerbs)}, "-")
		if !taken(id) {
			return id
		}
	}
}

func pick(words []string) string {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
	if err != nil {
		panic("relay: crypto/rand unavailable: " + err.Error())
	}
	return words[n.Int64()]
}
