package worktree

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// Oid names an external snapshot by content hash.
type Oid [32]byte

var ErrInvalidOid = errors.New("worktree: invalid snapshot id")

// ParseOid parses the canonical form: 64 lowercase hex digits.
func ParseOid(s string) (Oid, error) {
	var oid Oid
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(oid) {
		return Oid{}, fmt.Errorf("%w: %q", ErrInvalidOid, s)
	}
	copy(oid[:], raw)
	return oid, nil
}

func (o Oid) String() string {
	return hex.EncodeToString(o[:])
}

// MarshalText renders the oid in its canonical form.
func (o Oid) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText parses the canonical form.
func (o *Oid) UnmarshalText(text []byte) error {
	oid, err := ParseOid(string(text))
	if err != nil {
		return err
	}
	*o = oid
	return nil
}
