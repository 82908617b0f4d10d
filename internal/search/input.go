package search

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dreamware/keysearch/internal/coordinator"
	"github.com/dreamware/keysearch/internal/oracle"
)

// Input is the ciphertext to search and, for self-test runs, the plaintext
// it was made from.
type Input struct {
	Ciphertext []byte
	Plaintext  []byte
}

// LoadInput reads path. Without a known key the file is ciphertext and must
// be a non-empty multiple of the DES block size. With a known key the file is
// plaintext and is encrypted with that key.
func LoadInput(path string, knownKey *uint64) (Input, error) {
	if path == "" {
		return Input{}, errors.New("no input file configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Input{}, fmt.Errorf("read input: %w", err)
	}
	if knownKey == nil {
		if len(data) == 0 {
			return Input{}, oracle.ErrEmptyCiphertext
		}
		if len(data)%oracle.BlockSize != 0 {
			return Input{}, fmt.Errorf("%s: %w", path, oracle.ErrBlockSize)
		}
		return Input{Ciphertext: data}, nil
	}
	ct, err := oracle.Encrypt(*knownKey, data)
	if err != nil {
		return Input{}, fmt.Errorf("encrypt self-test input: %w", err)
	}
	return Input{Ciphertext: ct, Plaintext: data}, nil
}

// PrintOutcome writes the human-readable result of a run. For a found key
// the ciphertext is decrypted so the operator sees the recovered message.
func PrintOutcome(out io.Writer, o coordinator.Outcome, in Input) {
	fmt.Fprintln(out, o.String())
	fmt.Fprintf(out, "units issued: %d\n", o.UnitsIssued)
	fmt.Fprintf(out, "elapsed: %s\n", o.Elapsed.Round(time.Millisecond))
	if o.Kind != coordinator.Found {
		return
	}
	plain, err := oracle.Decrypt(o.Key, in.Ciphertext)
	if err != nil {
		fmt.Fprintf(out, "decrypt with found key: %v\n", err)
		return
	}
	fmt.Fprintf(out, "plaintext: %s\n", plain)
	if in.Plaintext != nil && string(in.Plaintext) != string(plain) {
		fmt.Fprintln(out, "self-test: plaintext does not match input")
	}
}
