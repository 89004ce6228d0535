package chainhash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HexLen is the length of a hex-encoded SHA-256 digest.
const HexLen = 64

// ZeroHash is the placeholder digest used for empty merkle trees,
// the genesis previous-hash, and unset state roots.
var ZeroHash = strings.Repeat("0", HexLen)

// Sum returns the lowercase hex SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SumString is Sum over a string.
func SumString(s string) string {
	return Sum([]byte(s))
}

// MerkleRoot builds a merkle root over transaction hash strings.
// Pairs are combined left to right by hashing the concatenation of the
// two hex strings; an odd level duplicates its last element. The empty
// list yields ZeroHash. Ordering is significant: permuting the input
// changes the root.
func MerkleRoot(txHashes []string) string {
	if len(txHashes) == 0 {
		return ZeroHash
	}

	level := make([]string, len(txHashes))
	copy(level, txHashes)

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]string, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, SumString(level[i]+level[i+1]))
		}
		level = next
	}

	return level[0]
}

// MeetsDifficulty reports whether a hex hash has at least difficulty
// leading zero characters.
func MeetsDifficulty(hash string, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	if difficulty > len(hash) {
		return false
	}
	for i := 0; i < difficulty; i++ {
		if hash[i] != '0' {
			return false
		}
	}
	return true
}
