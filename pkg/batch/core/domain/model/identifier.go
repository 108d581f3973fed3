package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DefaultSourceSystemCd is used whenever a source system code is omitted.
const DefaultSourceSystemCd = "RCC"

// Identifier addresses a remote object by its business identity.
type Identifier struct {
	ID  string `yaml:"objectId" json:"objectId" mapstructure:"objectId"`
	SSC string `yaml:"sourceSystemCd" json:"sourceSystemCd" mapstructure:"sourceSystemCd"`
}

// NewIdentifier creates an Identifier, defaulting ssc to DefaultSourceSystemCd.
func NewIdentifier(id, ssc string) Identifier {
	if ssc == "" {
		ssc = DefaultSourceSystemCd
	}
	return Identifier{ID: id, SSC: ssc}
}

// Key returns "id:ssc".
func (i Identifier) Key() string {
	return i.ID + ":" + i.SourceSystemCd()
}

// SourceSystemCd returns the source system code, or the default when unset.
func (i Identifier) SourceSystemCd() string {
	if i.SSC == "" {
		return DefaultSourceSystemCd
	}
	return i.SSC
}

// IsZero reports whether the identifier has no object id.
func (i Identifier) IsZero() bool {
	return i.ID == ""
}

// ParseIdentifier parses an "id:ssc" key. A key without ssc gets the default.
func ParseIdentifier(key string) (Identifier, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Identifier{}, fmt.Errorf("identifier key cannot be empty")
	}
	idx := strings.LastIndex(key, ":")
	if idx < 0 {
		return NewIdentifier(key, ""), nil
	}
	if idx == 0 {
		return Identifier{}, fmt.Errorf("identifier key '%s' has no object id", key)
	}
	return NewIdentifier(key[:idx], key[idx+1:]), nil
}

// HashKey returns the hex sha256 of the parts joined by ":".
func HashKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(sum[:])
}

// NewID generates a new UUID string.
func NewID() string {
	return uuid.New().String()
}
