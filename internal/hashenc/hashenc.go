// Package hashenc turns fuzzy-hash hex digests into fixed-width uint32 word
// vectors.
//
// The hex text is right-padded with ASCII '0' to a multiple of 8 characters,
// cut into 8 character groups and each group parsed as one word. Padding is
// applied to the text, so a digest whose length is not a multiple of 8 gets
// zero low-order nibbles in its last group. Group order is always preserved;
// ByteOrder only decides whether the four bytes inside a group are reversed
// before parsing.
package hashenc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// GroupLen is the number of hex characters per encoded word.
const GroupLen = 8

// ErrInvalidHashFormat is returned for empty input or non-hex characters.
var ErrInvalidHashFormat = errors.New("invalid hash format")

// FormatError locates the first offending character of a rejected hash.
type FormatError struct {
	Hash string
	Pos  int
	Char rune
}

func (e *FormatError) Error() string {
	if e.Hash == "" {
		return "invalid hash format: empty hash"
	}
	return fmt.Sprintf("invalid hash format: %q at offset %d", e.Char, e.Pos)
}

func (e *FormatError) Unwrap() error { return ErrInvalidHashFormat }

type ByteOrder int

const (
	// LittleEndian reverses the bytes of each group, so the first digest
	// byte lands in the least significant byte of the word.
	LittleEndian ByteOrder = iota
	// BigEndian parses each group as written.
	BigEndian
)

func (o ByteOrder) String() string {
	if o == BigEndian {
		return "big"
	}
	return "little"
}

// ParseByteOrder accepts "little" / "le" and "big" / "be".
func ParseByteOrder(s string) (ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "little", "le", "little-endian":
		return LittleEndian, nil
	case "big", "be", "big-endian":
		return BigEndian, nil
	default:
		return 0, fmt.Errorf("unknown byte order %q", s)
	}
}

// Validate reports whether s is a non-empty hex string.
func Validate(s string) error {
	if s == "" {
		return &FormatError{}
	}
	for i, c := range s {
		if !isHex(c) {
			return &FormatError{Hash: s, Pos: i, Char: c}
		}
	}
	return nil
}

func isHex(c rune) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

// Words is the vector length a hex string of n characters encodes to.
func Words(n int) int {
	return (n + GroupLen - 1) / GroupLen
}

// Pad right-pads s with '0' until its length is a multiple of GroupLen.
func Pad(s string) string {
	if r := len(s) % GroupLen; r != 0 {
		return s + strings.Repeat("0", GroupLen-r)
	}
	return s
}

// SwapGroup reverses the byte order of one 8 character group:
// g[6:8]+g[4:6]+g[2:4]+g[0:2].
func SwapGroup(g string) string {
	return g[6:8] + g[4:6] + g[2:4] + g[0:2]
}

// Encode converts a hex digest into one word per 8 character group.
func Encode(s string, order ByteOrder) ([]uint32, error) {
	if err := Validate(s); err != nil {
		return nil, err
	}
	s = Pad(s)

	words := make([]uint32, 0, len(s)/GroupLen)
	for i := 0; i < len(s); i += GroupLen {
		g := s[i : i+GroupLen]
		if order == LittleEndian {
			g = SwapGroup(g)
		}
		v, err := strconv.ParseUint(g, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidHashFormat, err)
		}
		words = append(words, uint32(v))
	}
	return words, nil
}

// Encoder carries the byte order and expected vector width of a data set.
type Encoder struct {
	Order ByteOrder
	// Dim, when positive, is the word count every encoded hash must have.
	Dim int
}

// DimensionError is returned when a hash encodes to the wrong number of words.
type DimensionError struct {
	Hash     string
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("hash %q encodes to %d words, want %d", e.Hash, e.Actual, e.Expected)
}

func (e *DimensionError) Unwrap() error { return ErrInvalidHashFormat }

func (e Encoder) Encode(s string) ([]uint32, error) {
	v, err := Encode(s, e.Order)
	if err != nil {
		return nil, err
	}
	if e.Dim > 0 && len(v) != e.Dim {
		return nil, &DimensionError{Hash: s, Expected: e.Dim, Actual: len(v)}
	}
	return v, nil
}
