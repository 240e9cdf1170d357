package hasher

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Result is a computed content fingerprint.
type Result struct {
	Algorithm Algorithm
	Digest    string
	Duration  time.Duration
	Bytes     int64
}

// String renders the fingerprint as "<ALG>:<HEX>".
func (r Result) String() string {
	if r.IsZero() {
		return ""
	}
	return string(r.Algorithm) + ":" + r.Digest
}

func (r Result) IsZero() bool {
	return r.Algorithm == "" || r.Digest == ""
}

// Throughput is bytes per second for the computation, zero when unknown.
func (r Result) Throughput() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Bytes) / r.Duration.Seconds()
}

// ParseFingerprint splits a stored "<ALG>:<HEX>" value.
func ParseFingerprint(s string) (Result, error) {
	tag, digest, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || digest == "" {
		return Result{}, fmt.Errorf("malformed fingerprint %q", s)
	}
	alg, err := ParseAlgorithm(tag)
	if err != nil {
		return Result{}, err
	}
	return Result{Algorithm: alg, Digest: strings.ToLower(digest)}, nil
}

// IOError reports a file that could not be opened or read while hashing.
type IOError struct {
	Path string
	Op   string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("hash %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// IsIOError reports whether err carries an *IOError.
func IsIOError(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr)
}
