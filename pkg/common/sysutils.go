package common

import "syscall"

// SetRestrictiveUmask masks the group and world bits, so the database the daemon creates is readable by its
// own user only.
func SetRestrictiveUmask() {
	syscall.Umask(0077) // cannot fail
}
