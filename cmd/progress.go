package main

import (
	"os"
	"strings"

	"github.com/schollz/progressbar/v3"
)

func progressVisible() bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv("DUPFINDER_DISABLE_PROGRESS")))
	return value != "1" && value != "true" && value != "yes" && value != "on"
}

// newProgressBar returns a counting bar, or a spinner when total is
// unknown (negative).
func newProgressBar(total int, description string, silent bool) *progressbar.ProgressBar {
	visible := progressVisible() && !silent
	if total < 0 {
		return progressbar.NewOptions(-1,
			progressbar.OptionSetDescription(description),
			progressbar.OptionShowCount(),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionSetVisibility(visible),
			progressbar.OptionFullWidth(),
		)
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetVisibility(visible),
		progressbar.OptionFullWidth(),
	)
}
