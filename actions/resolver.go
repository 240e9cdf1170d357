// Package actions decides what happens to each member of a duplicate group
// and carries those decisions out.
package actions

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"dupfinder/classify"
	"dupfinder/duplicates"
	"dupfinder/logger"
	"dupfinder/scanner"

	"github.com/sirupsen/logrus"
)

var (
	ErrNilDescriptor     = errors.New("nil descriptor")
	ErrUnsupportedAction = errors.New("action not supported")
	ErrMissingTarget     = errors.New("action requires a target path")
	ErrTargetExists      = errors.New("target already exists")
)

const (
	ReasonSurvivor  = "highest priority"
	ReasonProtected = "protected file"
	ReasonRemovable = "removable media, duplicate not retained"
	ReasonCloudSync = "avoid disrupting sync state"
	ReasonDuplicate = "duplicate auto-detected"
	ReasonHardLink  = "hard link to kept file"
)

// Strategy picks the action for ordinary redundant copies. Protected,
// removable, and cloud-synced members are handled the same under every
// strategy.
type Strategy string

const (
	StrategyRecycle Strategy = "recycle"
	// StrategyQuarantine moves redundant copies below QuarantineDir.
	StrategyQuarantine Strategy = "quarantine"
	// StrategyLink replaces redundant copies with links to the survivor.
	StrategyLink Strategy = "link"
	// StrategyReview flags redundant copies without touching them.
	StrategyReview Strategy = "review"
)

func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return StrategyRecycle, nil
	case StrategyRecycle, StrategyQuarantine, StrategyLink, StrategyReview:
		return st, nil
	default:
		return "", fmt.Errorf("unknown strategy: %s", s)
	}
}

type ResolverOptions struct {
	Strategy      Strategy
	QuarantineDir string
}

// Resolver assigns an action to every member of a group.
type Resolver struct {
	opts ResolverOptions
	log  logrus.FieldLogger
}

func NewResolver(opts ResolverOptions, log logrus.FieldLogger) (*Resolver, error) {
	if opts.Strategy == "" {
		opts.Strategy = StrategyRecycle
	}
	if opts.Strategy == StrategyQuarantine {
		if opts.QuarantineDir == "" {
			return nil, fmt.Errorf("%w: quarantine strategy needs a directory", ErrMissingTarget)
		}
		abs, err := filepath.Abs(opts.QuarantineDir)
		if err != nil {
			return nil, err
		}
		opts.QuarantineDir = abs
	}
	return &Resolver{opts: opts, log: logger.OrDiscard(log)}, nil
}

// Resolve runs ResolveGroup over every group and stops at the first
// contract violation.
func (r *Resolver) Resolve(groups []*duplicates.Group) error {
	for _, g := range groups {
		if err := r.ResolveGroup(g); err != nil {
			return err
		}
	}
	return nil
}

// ResolveGroup keeps the best-ranked member and assigns every other member
// an action. Groups with fewer than two members are left alone.
func (r *Resolver) ResolveGroup(g *duplicates.Group) error {
	if g == nil || g.Count() <= 1 {
		return nil
	}
	ranked := Rank(g.Files())
	survivor := ranked[0]
	if err := survivor.SetAction(scanner.ActionKeep, ReasonSurvivor); err != nil {
		return err
	}
	for _, d := range ranked[1:] {
		if err := r.assign(d, survivor, g); err != nil {
			return err
		}
	}
	r.log.WithFields(logrus.Fields{
		"fingerprint": g.Fingerprint().String(),
		"survivor":    survivor.Path(),
		"members":     g.Count(),
	}).Debug("group resolved")
	return nil
}

func (r *Resolver) assign(d, survivor *scanner.FileDescriptor, g *duplicates.Group) error {
	switch {
	case d.Guarded():
		return d.SetAction(scanner.ActionKeep, ReasonProtected)
	case d.FileID() != "" && d.FileID() == survivor.FileID():
		// same inode: removing it frees nothing
		return d.SetAction(scanner.ActionKeep, ReasonHardLink)
	case d.Location() == classify.RemovableDrive:
		return d.SetAction(scanner.ActionDelete, ReasonRemovable)
	case d.Location() == classify.CloudSync:
		return d.SetAction(scanner.ActionKeep, ReasonCloudSync)
	}

	switch r.opts.Strategy {
	case StrategyQuarantine:
		prefix := g.Fingerprint().Digest
		if len(prefix) > 12 {
			prefix = prefix[:12]
		}
		if err := d.SetTargetPath(filepath.Join(r.opts.QuarantineDir, prefix, d.Name())); err != nil {
			return err
		}
		return d.SetAction(scanner.ActionMove, ReasonDuplicate)
	case StrategyLink:
		if err := d.SetTargetPath(survivor.Path()); err != nil {
			return err
		}
		return d.SetAction(scanner.ActionCreateLink, ReasonDuplicate)
	case StrategyReview:
		return d.SetAction(scanner.ActionReview, ReasonDuplicate)
	default:
		return d.SetAction(scanner.ActionRecycle, ReasonDuplicate)
	}
}

// Rank orders descriptors best first: higher priority, then the system
// drive, then the most recent modification, then the smallest path. The
// input slice is not modified.
func Rank(files []*scanner.FileDescriptor) []*scanner.FileDescriptor {
	ranked := append([]*scanner.FileDescriptor(nil), files...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if pa, pb := a.Priority(), b.Priority(); pa != pb {
			return pa > pb
		}
		if sa, sb := a.Location() == classify.SystemDrive, b.Location() == classify.SystemDrive; sa != sb {
			return sa
		}
		if ma, mb := a.ModTime(), b.ModTime(); !ma.Equal(mb) {
			return ma.After(mb)
		}
		return a.Path() < b.Path()
	})
	return ranked
}
