package ec

import (
	"github.com/sierrasoftworks/humane-errors-go"
	"golang.org/x/sys/unix"
)

// RequireRoot fails unless the effective user is root. Direct EC I/O is only possible
// with full privileges.
func RequireRoot() humane.Error {
	return requireEUID(unix.Geteuid())
}

func requireEUID(euid int) humane.Error {
	if euid != 0 {
		return humane.New("root access is required",
			"run this command as root, for example with sudo",
		)
	}
	return nil
}
