package hasher

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"hash"
	"strings"

	"github.com/cespare/xxhash/v2"
	"lukechampine.com/blake3"
)

// Algorithm is the tag prefixed to every stored or displayed digest.
type Algorithm string

const (
	SHA256 Algorithm = "SHA256"
	SHA1   Algorithm = "SHA1"
	MD5    Algorithm = "MD5"
	XXH64  Algorithm = "XXH64"
	BLAKE3 Algorithm = "BLAKE3"
)

const DefaultAlgorithm = SHA256

var constructors = map[Algorithm]func() hash.Hash{
	SHA256: sha256.New,
	SHA1:   sha1.New,
	MD5:    md5.New,
	XXH64:  func() hash.Hash { return xxhash.New() },
	BLAKE3: func() hash.Hash { return blake3.New(32, nil) },
}

// Algorithms lists the supported tags in a stable order.
func Algorithms() []Algorithm {
	return []Algorithm{SHA256, SHA1, MD5, XXH64, BLAKE3}
}

// ParseAlgorithm accepts a tag in any case, with or without a dash
// ("sha-256", "xxh64").
func ParseAlgorithm(name string) (Algorithm, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "-", ""))
	if normalized == "" {
		return DefaultAlgorithm, nil
	}
	alg := Algorithm(normalized)
	if _, ok := constructors[alg]; !ok {
		return "", fmt.Errorf("unsupported hash algorithm: %s", name)
	}
	return alg, nil
}

func (a Algorithm) New() (hash.Hash, error) {
	ctor, ok := constructors[a]
	if !ok {
		return nil, fmt.Errorf("unsupported hash algorithm: %s", a)
	}
	return ctor(), nil
}

func (a Algorithm) String() string { return string(a) }
