//go:build !windows

package app

import (
	"strings"

	"golang.org/x/sys/unix"
)

func isHidden(_ string, name string) bool {
	return strings.HasPrefix(name, ".")
}

func isReadable(path string) bool {
	return unix.Access(path, unix.R_OK) == nil
}
