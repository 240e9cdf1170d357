package actions

import "errors"

// ErrTrashUnavailable is returned by platforms without a usable trash.
var ErrTrashUnavailable = errors.New("trash not available")

// Trasher moves a file to the platform trash or recycle bin.
type Trasher interface {
	Trash(path string) error
}

// TrashFunc adapts a function to Trasher.
type TrashFunc func(path string) error

func (f TrashFunc) Trash(path string) error { return f(path) }

// PlatformTrash returns the trash for the running OS. It is a variable to
// allow replacing it in tests.
var PlatformTrash = func() Trasher { return TrashFunc(moveToTrash) }
