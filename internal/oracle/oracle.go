// Package oracle defines the key-test capability used by workers and the
// DES implementation used by the command line tools.
package oracle

import (
	"bytes"
	"crypto/des"
	"encoding/binary"
	"errors"
	"fmt"
)

// DefaultMarker is the known plaintext fragment searched for after decryption.
const DefaultMarker = "es una prueba de"

// BlockSize is the DES block size in bytes.
const BlockSize = des.BlockSize

var (
	// ErrBlockSize is returned when the ciphertext is not a whole number of blocks.
	ErrBlockSize = errors.New("ciphertext length is not a multiple of the block size")
	// ErrEmptyCiphertext is returned for a zero-length ciphertext.
	ErrEmptyCiphertext = errors.New("empty ciphertext")
	// ErrInvalidPadding is returned when PKCS#5 padding cannot be removed.
	ErrInvalidPadding = errors.New("invalid padding")
)

// KeyOracle decides whether a candidate key decrypts the ciphertext.
// Implementations must be deterministic and safe for concurrent use: every
// call works on its own scratch buffers and cipher state.
type KeyOracle interface {
	// TryKey reports whether key is a match. A non-nil error means the key
	// could not be tested at all; callers treat it as a non-match.
	TryKey(key uint64, ciphertext []byte) (bool, error)
}

// Func adapts an ordinary function to KeyOracle.
type Func func(key uint64, ciphertext []byte) (bool, error)

// TryKey calls f(key, ciphertext).
func (f Func) TryKey(key uint64, ciphertext []byte) (bool, error) {
	return f(key, ciphertext)
}

// DES tests keys by decrypting the ciphertext in ECB mode and looking for
// Marker in the result.
type DES struct {
	Marker []byte
}

// NewDES returns a DES oracle matching marker. An empty marker falls back to
// DefaultMarker.
func NewDES(marker string) *DES {
	if marker == "" {
		marker = DefaultMarker
	}
	return &DES{Marker: []byte(marker)}
}

// TryKey decrypts a private copy of ciphertext with key and reports whether
// the marker occurs anywhere in the result. NUL bytes do not end the text, so
// a marker after a NUL still matches.
func (d *DES) TryKey(key uint64, ciphertext []byte) (bool, error) {
	plain, err := decryptBlocks(key, ciphertext)
	if err != nil {
		return false, err
	}
	return bytes.Contains(plain, d.Marker), nil
}

// KeyBytes expands a search key into an 8-byte DES key: the low byte first,
// each byte forced to odd parity.
func KeyBytes(key uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, key)
	for i, v := range b {
		b[i] = oddParity(v)
	}
	return b
}

// oddParity sets the low bit so that the byte has an odd number of ones.
func oddParity(b byte) byte {
	b &^= 1
	ones := 0
	for v := b; v != 0; v &= v - 1 {
		ones++
	}
	if ones%2 == 0 {
		b |= 1
	}
	return b
}

// Canonical clears the bits that KeyBytes discards, mapping every key to the
// lowest key of its equivalence class. Two keys with the same canonical form
// decrypt identically.
func Canonical(key uint64) uint64 {
	return key &^ 0x0101010101010101
}

// Encrypt pads plaintext with PKCS#5 and encrypts it with key in ECB mode.
func Encrypt(key uint64, plaintext []byte) ([]byte, error) {
	block, err := des.NewCipher(KeyBytes(key))
	if err != nil {
		return nil, fmt.Errorf("des key schedule: %w", err)
	}

	out := Pad(plaintext)
	for i := 0; i < len(out); i += BlockSize {
		block.Encrypt(out[i:i+BlockSize], out[i:i+BlockSize])
	}
	return out, nil
}

// Decrypt reverses Encrypt, removing the padding.
func Decrypt(key uint64, ciphertext []byte) ([]byte, error) {
	plain, err := decryptBlocks(key, ciphertext)
	if err != nil {
		return nil, err
	}
	return Unpad(plain)
}

func decryptBlocks(key uint64, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, ErrEmptyCiphertext
	}
	if len(ciphertext)%BlockSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrBlockSize, len(ciphertext))
	}

	block, err := des.NewCipher(KeyBytes(key))
	if err != nil {
		return nil, fmt.Errorf("des key schedule: %w", err)
	}

	plain := make([]byte, len(ciphertext))
	for i := 0; i < len(ciphertext); i += BlockSize {
		block.Decrypt(plain[i:i+BlockSize], ciphertext[i:i+BlockSize])
	}
	return plain, nil
}

// Pad appends PKCS#5 padding. A full block is added when the input is
// already aligned.
func Pad(data []byte) []byte {
	n := BlockSize - len(data)%BlockSize
	out := make([]byte, len(data)+n)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

// Unpad strips PKCS#5 padding.
func Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%BlockSize != 0 {
		return nil, ErrInvalidPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > BlockSize {
		return nil, ErrInvalidPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrInvalidPadding
		}
	}
	return data[:len(data)-n], nil
}
