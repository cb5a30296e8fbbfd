// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package linuxerr contains kernel error codes exported as error interface
// pointers. This allows for fast comparison and return operations comperable
// to unix.Errno constants.
package linuxerr

import (
	"fmt"

	"golang.org/x/sys/unix"
	"gvisor.dev/threadinfo/pkg/errors"
)

// The following errors are semantically identical to Errno of type
// unix.Errno. However, since the types are distinct (these are
// *errors.Error), they are not directly comperable. The Errno method returns
// an Errno number such that the error can be compared to unix.Errno (e.g.
// ENOMEM.Errno() == unix.ENOMEM is true).
var (
	noError *errors.Error = nil
	ESRCH                 = errors.New(unix.ESRCH, "no such process")
	EAGAIN                = errors.New(unix.EAGAIN, "try again")
	ENOMEM                = errors.New(unix.ENOMEM, "out of memory")
	EFAULT                = errors.New(unix.EFAULT, "bad address")
	EBUSY                 = errors.New(unix.EBUSY, "device or resource busy")
	ENODEV                = errors.New(unix.ENODEV, "no such device")
	EINVAL                = errors.New(unix.EINVAL, "invalid argument")
)

var errorMap = map[unix.Errno]*errors.Error{
	unix.ESRCH:  ESRCH,
	unix.EAGAIN: EAGAIN,
	unix.ENOMEM: ENOMEM,
	unix.EFAULT: EFAULT,
	unix.EBUSY:  EBUSY,
	unix.ENODEV: ENODEV,
	unix.EINVAL: EINVAL,
}

// ErrorFromUnix returns a linuxerr from a unix.Errno.
func ErrorFromUnix(err unix.Errno) error {
	if err == unix.Errno(0) {
		return nil
	}
	e, ok := errorMap[err]
	if !ok {
		panic(fmt.Sprintf("invalid error requested with errno: %v", err))
	}
	return e
}

// ToUnix converts a linuxerr to a unix.Errno.
func ToUnix(e *errors.Error) unix.Errno {
	var unixErr unix.Errno
	if e != noError {
		unixErr = e.Errno()
	}
	return unixErr
}

// Equals compars a linuxerr to a given error.
func Equals(e *errors.Error, err error) bool {
	var unixErr unix.Errno
	if e != noError {
		unixErr = e.Errno()
	}
	if err == nil {
		err = noError
	}
	return e == err || unixErr == err
}
