//go:build linux

package host

import "golang.org/x/sys/unix"

func syncFilesystems() {
	unix.Sync()
}
