//go:build unix

package link

import (
	"errors"

	"golang.org/x/sys/unix"
)

func isResetErrno(err error) bool {
	return errors.Is(err, unix.ECONNRESET) ||
		errors.Is(err, unix.EPIPE) ||
		errors.Is(err, unix.ECONNABORTED) ||
		errors.Is(err, unix.ENOTCONN) ||
		errors.Is(err, unix.ENODEV) ||
		errors.Is(err, unix.EIO)
}
