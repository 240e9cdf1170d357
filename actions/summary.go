package actions

import (
	"sort"

	"dupfinder/scanner"
)

// Plan summarizes assigned actions before execution.
type Plan struct {
	Counts map[scanner.Action]int
	// BytesToFree counts files assigned Delete or Recycle.
	BytesToFree int64
}

// ActionCount is one row of a plan, for ordered display.
type ActionCount struct {
	Action scanner.Action
	Files  int
}

func Summarize(files []*scanner.FileDescriptor) Plan {
	p := Plan{Counts: make(map[scanner.Action]int)}
	for _, d := range files {
		if d == nil {
			continue
		}
		a := d.Action()
		p.Counts[a]++
		if a.IsDestructive() {
			p.BytesToFree += d.Size()
		}
	}
	return p
}

// Rows orders the counts by file count descending, then by action.
func (p Plan) Rows() []ActionCount {
	rows := make([]ActionCount, 0, len(p.Counts))
	for a, n := range p.Counts {
		rows = append(rows, ActionCount{Action: a, Files: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Files != rows[j].Files {
			return rows[i].Files > rows[j].Files
		}
		return rows[i].Action < rows[j].Action
	})
	return rows
}

// Report aggregates execution outcomes.
type Report struct {
	Succeeded  int
	Failed     int
	Skipped    int
	Fallbacks  int
	BytesFreed int64
}

func Tally(outcomes []Outcome) Report {
	var r Report
	for _, o := range outcomes {
		switch {
		case o.AlreadyExecuted:
			r.Skipped++
		case o.Success:
			r.Succeeded++
			if !o.DryRun && o.Action.IsDestructive() && o.File != nil {
				r.BytesFreed += o.File.Size()
			}
		default:
			r.Failed++
		}
		if o.Fallback {
			r.Fallbacks++
		}
	}
	return r
}
