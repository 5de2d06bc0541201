// Package names allocates compound agent names of the form "adjective-animal".
//
// Selection is deterministic for a given seed: the SHA-256 digest of
// "seed:attempt" indexes both wordlists, so the same registration seed yields
// the same name until a collision bumps the attempt counter.
package names

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// CreatorName is the reserved name of the built-in system agent seeded at
// first boot.
const CreatorName = "the_creator"

// maxAttempts bounds collision retries before falling back to a uuid suffix.
const maxAttempts = 32

var adjectives = []string{
	"amber", "bold", "brave", "bright", "brisk", "calm", "clever", "cosmic",
	"crafty", "curious", "daring", "deft", "eager", "earnest", "fabled",
	"fierce", "gentle", "gilded", "happy", "hardy", "humble", "jolly",
	"keen", "limber", "lively", "lucky", "merry", "mighty", "nimble",
	"noble", "patient", "plucky", "proud", "quick", "quiet", "rapid",
	"rustic", "sage", "sharp", "silent", "sleek", "solid", "spry",
	"steady", "stoic", "sunny", "swift", "tidy", "vivid", "wise", "witty",
	"zesty",
}

var animals = []string{
	"badger", "beaver", "bison", "bobcat", "condor", "coyote", "crane",
	"dolphin", "falcon", "ferret", "finch", "fox", "gazelle", "gecko",
	"heron", "ibex", "jackal", "jaguar", "kestrel", "kiwi", "lemur",
	"lynx", "magpie", "marmot", "marten", "mole", "moose", "narwhal",
	"ocelot", "osprey", "otter", "owl", "panther", "pelican", "penguin",
	"pika", "puffin", "quail", "rabbit", "raccoon", "raven", "robin",
	"salmon", "sparrow", "stoat", "swift", "tapir", "toucan", "viper",
	"walrus", "weasel", "wombat", "wren",
}

// Taken reports whether a candidate name is already in use.
type Taken func(name string) (bool, error)

// ForSeed returns the deterministic candidate for a seed at a given attempt.
func ForSeed(seed string, attempt int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", seed, attempt)))
	adj := adjectives[binary.BigEndian.Uint32(sum[0:4])%uint32(len(adjectives))]
	animal := animals[binary.BigEndian.Uint32(sum[4:8])%uint32(len(animals))]
	return adj + "-" + animal
}

// Allocate returns an unused compound name derived from seed, retrying with
// an incremented attempt counter on collision. The reserved creator name is
// always treated as taken.
func Allocate(seed string, taken Taken) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		name := ForSeed(seed, attempt)
		if name == CreatorName {
			continue
		}
		used, err := taken(name)
		if err != nil {
			return "", err
		}
		if !used {
			return name, nil
		}
	}
	// Wordlist space exhausted for this seed; disambiguate with a uuid slug.
	return ForSeed(seed, 0) + "-" + uuid.NewString()[:8], nil
}
