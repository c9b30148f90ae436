package cipher

import (
	"crypto/aes"
	"fmt"
	"strings"
)

// Mode selects the transform applied to incoming frames. The numeric values
// are persisted in settings.
type Mode uint8

const (
	ModeNone   Mode = 0
	ModeStream Mode = 1
	ModeBlock  Mode = 2
)

// MaxKeyLength is the longest key the gate accepts.
const MaxKeyLength = 16

// String returns the short display name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeStream:
		return "XOR"
	case ModeBlock:
		return "AES"
	default:
		return "None"
	}
}

// ParseMode accepts "none", "stream"/"xor" and "block"/"aes".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return ModeNone, nil
	case "stream", "xor":
		return ModeStream, nil
	case "block", "aes":
		return ModeBlock, nil
	default:
		return ModeNone, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// ModeFromByte decodes a stored mode, falling back to ModeNone.
func ModeFromByte(b uint8) Mode {
	if m := Mode(b); m <= ModeBlock {
		return m
	}
	return ModeNone
}

// PartialBlockPolicy decides what block mode does with a trailing partial block.
type PartialBlockPolicy string

const (
	PolicyReject      PartialBlockPolicy = "reject"
	PolicyPassthrough PartialBlockPolicy = "passthrough"
)

// ParsePolicy validates a policy name. Empty selects PolicyReject.
func ParsePolicy(s string) (PartialBlockPolicy, error) {
	switch p := PartialBlockPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyReject, nil
	case PolicyReject, PolicyPassthrough:
		return p, nil
	default:
		return PolicyReject, fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

// Gate holds the active mode and key.
type Gate struct {
	mode   Mode
	key    []byte
	policy PartialBlockPolicy
}

// NewGate creates a gate. The key is copied.
func NewGate(mode Mode, key []byte, policy PartialBlockPolicy) (*Gate, error) {
	if mode > ModeBlock {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, mode)
	}
	if len(key) > MaxKeyLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrKeyTooLong, len(key))
	}
	if policy == "" {
		policy = PolicyReject
	}
	return &Gate{
		mode:   mode,
		key:    append([]byte(nil), key...),
		policy: policy,
	}, nil
}

// Mode returns the configured mode.
func (g *Gate) Mode() Mode { return g.mode }

// Decrypt transforms buf in place and returns the number of leading bytes
// that now hold plaintext.
func (g *Gate) Decrypt(buf []byte) (int, error) {
	return g.apply(buf, false)
}

// Encrypt is the inverse of Decrypt.
func (g *Gate) Encrypt(buf []byte) (int, error) {
	return g.apply(buf, true)
}

func (g *Gate) apply(buf []byte, encrypt bool) (int, error) {
	if len(g.key) == 0 || len(buf) == 0 {
		return len(buf), nil
	}

	switch g.mode {
	case ModeStream:
		for i := range buf {
			buf[i] ^= g.key[i%len(g.key)]
		}
		return len(buf), nil

	case ModeBlock:
		tail := len(buf) % aes.BlockSize
		if tail != 0 && g.policy != PolicyPassthrough {
			return 0, fmt.Errorf("%w: %d bytes", ErrPartialBlock, len(buf))
		}

		var key [aes.BlockSize]byte
		copy(key[:], g.key)
		block, err := aes.NewCipher(key[:])
		if err != nil {
			return 0, fmt.Errorf("creating block cipher: %w", err)
		}

		whole := len(buf) - tail
		for off := 0; off < whole; off += aes.BlockSize {
			chunk := buf[off : off+aes.BlockSize]
			if encrypt {
				block.Encrypt(chunk, chunk)
			} else {
				block.Decrypt(chunk, chunk)
			}
		}
		return len(buf), nil

	default:
		return len(buf), nil
	}
}
