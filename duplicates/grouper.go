package duplicates

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"dupfinder/logger"
	"dupfinder/scanner"
	"dupfinder/tracing"

	"github.com/sirupsen/logrus"
)

// QuickHasher hashes a fixed-size prefix of a file. *hasher.Engine
// implements it.
type QuickHasher interface {
	QuickHash(ctx context.Context, path string) (uint64, error)
}

type Options struct {
	Concurrency int
	// QuickCheck drops size-bucket members whose leading block differs
	// from every other member before full hashing. It needs a fingerprinter
	// that also implements QuickHasher.
	QuickCheck bool
	// OnHashed is called from worker goroutines after each full
	// fingerprint attempt.
	OnHashed func()
}

// HashFailure is a file that could not be fingerprinted. It is left out of
// every group.
type HashFailure struct {
	Path string
	Err  error
}

func (f HashFailure) Error() string {
	return fmt.Sprintf("%s: %v", f.Path, f.Err)
}

// Result is the outcome of one grouping pass.
type Result struct {
	// Groups are ordered by BytesWasted descending, then by fingerprint.
	Groups         []*Group
	FilesScanned   int
	EmptyFiles     int
	Candidates     int
	FilesHashed    int
	DuplicateFiles int
	BytesWasted    int64
	HashFailures   []HashFailure
	Duration       time.Duration
}

func (r *Result) GroupsFound() int { return len(r.Groups) }

type Grouper struct {
	fp    scanner.Fingerprinter
	quick QuickHasher
	opts  Options
	log   logrus.FieldLogger
}

func NewGrouper(fp scanner.Fingerprinter, opts Options, log logrus.FieldLogger) *Grouper {
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.NumCPU()
	}
	g := &Grouper{fp: fp, opts: opts, log: logger.OrDiscard(log)}
	if opts.QuickCheck {
		if q, ok := fp.(QuickHasher); ok {
			g.quick = q
		}
	}
	return g
}

// Group partitions descriptors into duplicate groups. Files are first
// bucketed by size; only files sharing a size with another file are
// hashed, each by exactly one worker. Unreadable files are reported in
// Result.HashFailures. An invariant violation while building a group, or
// cancellation, aborts the pass with an error.
func (g *Grouper) Group(ctx context.Context, descriptors []*scanner.FileDescriptor) (*Result, error) {
	start := time.Now()
	ctx, endTask := tracing.StartTask(ctx, "group_duplicates")
	defer endTask()

	res := &Result{FilesScanned: len(descriptors)}
	for i, d := range descriptors {
		if d == nil {
			return nil, fmt.Errorf("%w at index %d", ErrNilDescriptor, i)
		}
	}

	bySize := make(map[int64][]*scanner.FileDescriptor)
	for _, d := range descriptors {
		if d.Size() == 0 {
			res.EmptyFiles++
			continue
		}
		bySize[d.Size()] = append(bySize[d.Size()], d)
	}
	var candidates []*scanner.FileDescriptor
	for _, bucket := range bySize {
		if len(bucket) > 1 {
			candidates = append(candidates, bucket...)
		}
	}
	sortByPath(candidates)

	if g.quick != nil && len(candidates) > 0 {
		var err error
		candidates, err = g.quickFilter(ctx, candidates, res)
		if err != nil {
			return nil, err
		}
	}
	res.Candidates = len(candidates)
	g.log.WithFields(logrus.Fields{
		"files":      res.FilesScanned,
		"candidates": res.Candidates,
	}).Debug("size bucketing complete")

	hashed, err := g.fingerprintAll(ctx, candidates, res)
	if err != nil {
		return nil, err
	}
	res.FilesHashed = len(hashed)

	partitions := make(map[string]*Group)
	var order []string
	for _, d := range hashed {
		fp, _ := d.Fingerprint()
		key := fp.String()
		grp, ok := partitions[key]
		if !ok {
			grp = NewGroup()
			partitions[key] = grp
			order = append(order, key)
		}
		if err := grp.Add(d); err != nil {
			return nil, err
		}
	}

	for _, key := range order {
		grp := partitions[key]
		if grp.Count() < 2 {
			continue
		}
		grp.Seal()
		res.Groups = append(res.Groups, grp)
		res.DuplicateFiles += grp.Count() - 1
		res.BytesWasted += grp.BytesWasted()
	}
	SortGroups(res.Groups)
	res.Duration = time.Since(start)
	g.log.WithFields(logrus.Fields{
		"groups":       res.GroupsFound(),
		"bytes_wasted": res.BytesWasted,
		"failures":     len(res.HashFailures),
	}).Info("duplicate grouping complete")
	return res, nil
}

// SortGroups orders groups by BytesWasted descending with the fingerprint
// as a stable tie-break.
func SortGroups(groups []*Group) {
	sort.SliceStable(groups, func(i, j int) bool {
		wi, wj := groups[i].BytesWasted(), groups[j].BytesWasted()
		if wi != wj {
			return wi > wj
		}
		return groups[i].Fingerprint().String() < groups[j].Fingerprint().String()
	})
}

type quickKey struct {
	size int64
	sum  uint64
}

func (g *Grouper) quickFilter(ctx context.Context, candidates []*scanner.FileDescriptor, res *Result) ([]*scanner.FileDescriptor, error) {
	sums := make([]uint64, len(candidates))
	errs := make([]error, len(candidates))
	skip := make([]bool, len(candidates))
	err := g.run(ctx, len(candidates), func(ctx context.Context, i int) {
		d := candidates[i]
		if d.HashCalculated() {
			skip[i] = true
			return
		}
		sums[i], errs[i] = g.quick.QuickHash(ctx, d.Path())
	})
	if err != nil {
		return nil, err
	}

	buckets := make(map[quickKey][]*scanner.FileDescriptor)
	var kept []*scanner.FileDescriptor
	for i, d := range candidates {
		switch {
		case skip[i]:
			kept = append(kept, d)
		case errs[i] != nil:
			g.log.WithError(errs[i]).WithField("path", d.Path()).Warn("quick check failed")
			res.HashFailures = append(res.HashFailures, HashFailure{Path: d.Path(), Err: errs[i]})
		default:
			k := quickKey{size: d.Size(), sum: sums[i]}
			buckets[k] = append(buckets[k], d)
		}
	}
	for _, bucket := range buckets {
		if len(bucket) > 1 {
			kept = append(kept, bucket...)
		}
	}
	sortByPath(kept)
	return kept, nil
}

func (g *Grouper) fingerprintAll(ctx context.Context, candidates []*scanner.FileDescriptor, res *Result) ([]*scanner.FileDescriptor, error) {
	errs := make([]error, len(candidates))
	err := g.run(ctx, len(candidates), func(ctx context.Context, i int) {
		_, errs[i] = candidates[i].EnsureFingerprint(ctx, g.fp)
		if g.opts.OnHashed != nil {
			g.opts.OnHashed()
		}
	})
	if err != nil {
		return nil, err
	}
	hashed := make([]*scanner.FileDescriptor, 0, len(candidates))
	for i, d := range candidates {
		if errs[i] != nil {
			g.log.WithError(errs[i]).WithField("path", d.Path()).Warn("failed to fingerprint file")
			res.HashFailures = append(res.HashFailures, HashFailure{Path: d.Path(), Err: errs[i]})
			continue
		}
		hashed = append(hashed, d)
	}
	return hashed, nil
}

// run calls fn once for every index in [0,n) on a bounded worker pool and
// waits for all of them. It returns ctx.Err() if the context ended first.
func (g *Grouper) run(ctx context.Context, n int, fn func(ctx context.Context, i int)) error {
	jobs := make(chan int, g.opts.Concurrency)
	var wg sync.WaitGroup
	for range g.opts.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					continue
				}
				fn(ctx, i)
			}
		}()
	}
feed:
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
	return ctx.Err()
}

func sortByPath(ds []*scanner.FileDescriptor) {
	sort.Slice(ds, func(i, j int) bool { return ds[i].Path() < ds[j].Path() })
}
