//go:build windows

package app

import (
	"os"
	"strings"

	"golang.org/x/sys/windows"
)

func isHidden(path, name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}

	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return false
	}
	attrs, err := windows.GetFileAttributes(p)
	if err != nil {
		return false
	}
	return attrs&windows.FILE_ATTRIBUTE_HIDDEN != 0
}

func isReadable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
