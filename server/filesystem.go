package server

import (
	"emperror.dev/errors"
	"github.com/karrick/godirwalk"
	"os"
)

// Chown recursively sets the owner of path and everything below it. Symlinks
// are never followed or changed, otherwise a link pointing outside of the data
// directory would have its target's ownership modified.
func Chown(path string, uid, gid int) error {
	// Start by just chowning the initial path that we received.
	if err := os.Chown(path, uid, gid); err != nil {
		return errors.Wrap(err, "server: chown: failed to chown path")
	}

	// If this is not a directory we can now return from the function, there is nothing
	// left that we need to do.
	if st, err := os.Stat(path); err != nil || !st.IsDir() {
		return nil
	}

	err := godirwalk.Walk(path, &godirwalk.Options{
		Unsorted: true,
		Callback: func(p string, e *godirwalk.Dirent) error {
			if e.IsSymlink() {
				return nil
			}
			return os.Chown(p, uid, gid)
		},
	})

	return errors.Wrap(err, "server: chown: failed to chown during walk function")
}

// Touch creates the file at path if it does not exist. Existing files are left
// untouched, including their contents.
func Touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "server: touch: failed to open file")
	}
	return f.Close()
}
