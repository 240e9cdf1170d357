package scanner

import (
	"dupfinder/classify"

	"github.com/djherbis/times"
)

// fileTimes falls back to the change time when the filesystem records no
// birth time.
func fileTimes(path string) (classify.Timestamps, error) {
	ts, err := times.Stat(path)
	if err != nil {
		return classify.Timestamps{}, err
	}
	result := classify.Timestamps{
		Modified: ts.ModTime(),
		Accessed: ts.AccessTime(),
	}
	switch {
	case ts.HasBirthTime():
		result.Created = ts.BirthTime()
	case ts.HasChangeTime():
		result.Created = ts.ChangeTime()
	}
	return result, nil
}
