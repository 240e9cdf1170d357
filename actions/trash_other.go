//go:build !darwin && !linux && !freebsd && !openbsd && !netbsd

package actions

func moveToTrash(string) error {
	return ErrTrashUnavailable
}
