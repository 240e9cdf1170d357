// Package duplicates partitions file descriptors into groups of files with
// verified identical content.
package duplicates

import (
	"errors"
	"fmt"

	"dupfinder/hasher"
	"dupfinder/scanner"
)

var (
	ErrNilDescriptor       = errors.New("nil descriptor")
	ErrEmptyFile           = errors.New("zero-byte files are not duplicates")
	ErrNoFingerprint       = errors.New("descriptor has no fingerprint")
	ErrFingerprintMismatch = errors.New("fingerprint differs from group")
	ErrSizeMismatch        = errors.New("size differs from group with equal fingerprint")
	ErrGroupSealed         = errors.New("group membership is sealed")
)

// Group holds descriptors that share one fingerprint and one size. The
// first member fixes both; later members must match or are rejected.
type Group struct {
	fingerprint hasher.Result
	size        int64
	files       []*scanner.FileDescriptor
	sealed      bool
}

func NewGroup() *Group {
	return &Group{}
}

// Add appends d after checking it against the group's fingerprint and
// size. A rejected descriptor is never added.
func (g *Group) Add(d *scanner.FileDescriptor) error {
	if d == nil {
		return ErrNilDescriptor
	}
	if g.sealed {
		return ErrGroupSealed
	}
	if d.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyFile, d.Path())
	}
	fp, ok := d.Fingerprint()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoFingerprint, d.Path())
	}
	if len(g.files) == 0 {
		g.fingerprint = fp
		g.size = d.Size()
		g.files = append(g.files, d)
		return nil
	}
	if fp.Algorithm != g.fingerprint.Algorithm || fp.Digest != g.fingerprint.Digest {
		return fmt.Errorf("%w: %s has %s, group has %s", ErrFingerprintMismatch, d.Path(), fp, g.fingerprint)
	}
	if d.Size() != g.size {
		return fmt.Errorf("%w: %s is %d bytes, group is %d bytes", ErrSizeMismatch, d.Path(), d.Size(), g.size)
	}
	g.files = append(g.files, d)
	return nil
}

// Seal freezes membership. Member actions may still change.
func (g *Group) Seal() { g.sealed = true }

func (g *Group) Sealed() bool { return g.sealed }

func (g *Group) Count() int { return len(g.files) }

// Size is the byte size shared by every member.
func (g *Group) Size() int64 { return g.size }

func (g *Group) Fingerprint() hasher.Result { return g.fingerprint }

// BytesWasted is the space held by every copy but one.
func (g *Group) BytesWasted() int64 {
	if len(g.files) < 2 {
		return 0
	}
	return g.size * int64(len(g.files)-1)
}

// Files returns the members in insertion order. The slice is a copy; the
// descriptors are shared.
func (g *Group) Files() []*scanner.FileDescriptor {
	return append([]*scanner.FileDescriptor(nil), g.files...)
}
