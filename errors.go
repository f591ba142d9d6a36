// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package kernel

import "strconv"

// Errno is a kernel error code, returned to userspace in a syscall's return
// slot or (for async calls) in the reply's retval. Internal invariant
// violations in the scheduler or IPC core are not represented here; they
// panic instead, per spec.
type Errno int

// Error kinds from spec.md section 7. EOK is zero so that the zero value of
// Errno reads as success.
const (
	EOK Errno = iota
	ENOENT
	ENOMEM
	EINVAL
	ELIMIT
	EPERM
	EHANGUP
	EFORWARD
	EBADMEM
	EAGAIN
	EINTERRUPTED
	ETIMEOUT
)

var errnoNames = [...]string{
	EOK:          "EOK",
	ENOENT:       "ENOENT",
	ENOMEM:       "ENOMEM",
	EINVAL:       "EINVAL",
	ELIMIT:       "ELIMIT",
	EPERM:        "EPERM",
	EHANGUP:      "EHANGUP",
	EFORWARD:     "EFORWARD",
	EBADMEM:      "EBADMEM",
	EAGAIN:       "EAGAIN",
	EINTERRUPTED: "EINTERRUPTED",
	ETIMEOUT:     "ETIMEOUT",
}

func (e Errno) Error() string {
	if int(e) >= 0 && int(e) < len(errnoNames) && errnoNames[e] != "" {
		return errnoNames[e]
	}
	return "Errno(" + strconv.Itoa(int(e)) + ")"
}
