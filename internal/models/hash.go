package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// HashType names the hash algorithm used to verify a cached source file.
type HashType string

const (
	HashTypeSHA1    HashType = "SHA1"
	HashTypeSHA256  HashType = "SHA256"
	HashTypeBlake2b HashType = "BLAKE2B"
)

func (t HashType) Valid() bool {
	switch t {
	case HashTypeSHA1, HashTypeSHA256, HashTypeBlake2b:
		return true
	default:
		return false
	}
}

func (t HashType) String() string { return string(t) }

func (t *HashType) Scan(src interface{}) error {
	if src == nil {
		return fmt.Errorf("error cannot convert nil to HashType")
	}
	s, ok := src.(string)
	if !ok {
		if b, ok2 := src.([]byte); ok2 {
			s = string(b)
		} else {
			return fmt.Errorf("error expected string but found: %T", src)
		}
	}
	switch strings.ToUpper(s) {
	case string(HashTypeSHA1):
		*t = HashTypeSHA1
	case string(HashTypeSHA256):
		*t = HashTypeSHA256
	case string(HashTypeBlake2b):
		*t = HashTypeBlake2b
	default:
		return fmt.Errorf("error unknown hash type: %s", s)
	}
	return nil
}

func (t HashType) Value() (driver.Value, error) {
	return string(t), nil
}

// SourceHash is a (hash type, digest) pair for one cached source file. The
// ledger schema has no source-hash table; source hashes are not recorded.
type SourceHash struct {
	Type   HashType `db:"hash_type"`
	Digest string   `db:"digest"`
}
