package object

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/pjbgf/sha1cd"
)

// HashSize is the length of a raw object id in bytes.
const HashSize = 20

// ZeroHash is the all-zero object id Git uses for "no object".
const ZeroHash = Hash("0000000000000000000000000000000000000000")

// HashObject computes the SHA-1 of the envelope "type len\0content", which
// is exactly how Git names loose objects.
func HashObject(objType ObjectType, data []byte) Hash {
	h := sha1cd.New()
	h.Write(envelope(objType, len(data)))
	h.Write(data)
	return Hash(hex.EncodeToString(h.Sum(nil)))
}

func envelope(objType ObjectType, n int) []byte {
	out := make([]byte, 0, len(objType)+12)
	out = append(out, objType...)
	out = append(out, ' ')
	out = strconv.AppendInt(out, int64(n), 10)
	return append(out, 0)
}

// ParseHash validates a hex object id and returns it in canonical form.
func ParseHash(s string) (Hash, error) {
	if len(s) != 2*HashSize {
		return "", fmt.Errorf("hash length %d, expected %d", len(s), 2*HashSize)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("hash contains non-hex characters: %w", err)
	}
	return Hash(hex.EncodeToString(raw)), nil
}

// Raw returns the 20 raw bytes of the id.
func (h Hash) Raw() ([]byte, error) {
	if len(h) != 2*HashSize {
		return nil, fmt.Errorf("hash length must be %d hex chars, got %d", 2*HashSize, len(h))
	}
	raw, err := hex.DecodeString(string(h))
	if err != nil {
		return nil, fmt.Errorf("invalid hash %q: %w", string(h), err)
	}
	return raw, nil
}

// Short returns the abbreviated form used in human output.
func (h Hash) Short() string {
	if len(h) < 7 {
		return string(h)
	}
	return string(h[:7])
}

func hashFromRaw(raw []byte) Hash {
	return Hash(hex.EncodeToString(raw))
}
