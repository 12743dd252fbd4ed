package challenge

import (
	crand "crypto/rand"
	"fmt"
	"math/big"
	"math/rand"
)

var codeAdjectives = []string{
	"SHADOW", "IRON", "GHOST", "NEON", "CYBER", "VOID", "DARK", "SILENT", "ROGUE", "PRIME",
	"STEALTH", "OMEGA", "ALPHA", "ECHO", "BRAVO", "TANGO", "SIERRA", "VECTOR",
}

var codeNouns = []string{
	"PROTOCOL", "BLADE", "FOX", "DOG", "HAWK", "EAGLE", "SNAKE", "WOLF", "BEAR", "TIGER",
	"ZERO", "ONE", "NINE", "STORM", "WINTER", "SUMMER", "NIGHT", "MOON", "SUN", "STAR",
}

// GenerateMissionCode creates a human-readable mission code such as
// SHADOW-FOX-42
func GenerateMissionCode() string {
	adj := codeAdjectives[randIndex(len(codeAdjectives))]
	noun := codeNouns[randIndex(len(codeNouns))]
	return fmt.Sprintf("%s-%s-%02d", adj, noun, randIndex(100))
}

func randIndex(n int) int {
	v, err := crand.Int(crand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// fallback to math/rand if crypto fails
		return rand.Intn(n)
	}
	return int(v.Int64())
}
