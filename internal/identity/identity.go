// Package identity generates throwaway test accounts for a walk.
//
// Generation is a pure function of the entropy source: the same bytes always
// yield the same Identity, and nothing is kept between calls.
package identity

import (
	"fmt"
	"io"
)

const (
	// NameLength is the length of every generated name.
	NameLength = 20

	DefaultPassword = "t3stp4ssword"
	EmailDomain     = "testing.com"
)

const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Largest multiple of len(letters) that fits in a byte. Bytes at or above it
// are rejected so every letter is equally likely.
const rejectAbove = 256 - 256%len(letters)

// Identity is one registered test user.
type Identity struct {
	Username  string
	FirstName string
	LastName  string
	Email     string
	Password  string
}

// Generate draws a fresh identity from entropy. Password is DefaultPassword;
// callers override it when configured.
func Generate(entropy io.Reader) (Identity, error) {
	var names [4]string
	for i := range names {
		n, err := Name(entropy)
		if err != nil {
			return Identity{}, err
		}
		names[i] = n
	}
	return Identity{
		Username:  names[0],
		FirstName: names[1],
		LastName:  names[2],
		Email:     names[3] + "@" + EmailDomain,
		Password:  DefaultPassword,
	}, nil
}

// Name returns NameLength random ASCII letters.
func Name(entropy io.Reader) (string, error) {
	out := make([]byte, 0, NameLength)
	buf := make([]byte, NameLength)
	for len(out) < NameLength {
		if _, err := io.ReadFull(entropy, buf); err != nil {
			return "", fmt.Errorf("read entropy: %w", err)
		}
		for _, b := range buf {
			if int(b) >= rejectAbove {
				continue
			}
			out = append(out, letters[int(b)%len(letters)])
			if len(out) == NameLength {
				break
			}
		}
	}
	return string(out), nil
}
