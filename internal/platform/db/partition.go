package db

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"

	"github.com/jackc/pgx/v5"
)

// PartitionPrefix is prepended to every generated partition name.
const PartitionPrefix = "tenant_"

const (
	partitionSuffixLen = 10
	partitionAlphabet  = "abcdefghijklmnopqrstuvwxyz0123456789"
)

var partitionPattern = regexp.MustCompile(`^tenant_[a-z0-9]{6,32}$`)

// ErrInvalidPartition is returned when a partition name does not match the
// generated-name format.
var ErrInvalidPartition = errors.New("invalid partition name")

// Partition is the validated name of a tenant's Postgres schema. The zero
// value is invalid; values are only produced by ParsePartition and
// NewPartitionName, so a Partition held by a caller has always passed the
// allow-list.
type Partition struct {
	name string
}

// ParsePartition validates name against the generated-name format.
func ParsePartition(name string) (Partition, error) {
	if !partitionPattern.MatchString(name) {
		return Partition{}, fmt.Errorf("%w: %q", ErrInvalidPartition, name)
	}
	return Partition{name: name}, nil
}

// MustPartition is ParsePartition for literals in tests and fixtures.
func MustPartition(name string) Partition {
	p, err := ParsePartition(name)
	if err != nil {
		panic(err)
	}
	return p
}

// NewPartitionName generates a fresh random partition name.
func NewPartitionName() (Partition, error) {
	buf := make([]byte, partitionSuffixLen)
	max := big.NewInt(int64(len(partitionAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return Partition{}, fmt.Errorf("generate partition name: %w", err)
		}
		buf[i] = partitionAlphabet[n.Int64()]
	}
	return ParsePartition(PartitionPrefix + string(buf))
}

// String returns the raw schema name.
func (p Partition) String() string {
	return p.name
}

// IsZero reports whether p was never assigned.
func (p Partition) IsZero() bool {
	return p.name == ""
}

// Ident returns the quoted SQL identifier for the schema. It re-checks the
// allow-list so a zero or corrupted value can never reach a statement.
func (p Partition) Ident() (string, error) {
	if !partitionPattern.MatchString(p.name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPartition, p.name)
	}
	return pgx.Identifier{p.name}.Sanitize(), nil
}

// MarshalText renders the schema name in JSON and logs.
func (p Partition) MarshalText() ([]byte, error) {
	return []byte(p.name), nil
}
