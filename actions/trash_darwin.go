//go:build darwin

package actions

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const trashTimeout = 30 * time.Second

func moveToTrash(path string) error {
	if strings.ContainsAny(path, "\n\r") {
		return fmt.Errorf("move to trash: invalid path %q", path)
	}
	escaped := strings.ReplaceAll(path, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	script := fmt.Sprintf(`tell application "Finder" to delete POSIX file "%s"`, escaped)

	ctx, cancel := context.WithTimeout(context.Background(), trashTimeout)
	defer cancel()
	if err := exec.CommandContext(ctx, "osascript", "-e", script).Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("move to trash timeout: %s", path)
		}
		return fmt.Errorf("move to trash: %s: %w", path, err)
	}
	return nil
}
