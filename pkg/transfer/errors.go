// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Emberwell Labs

package transfer

import "errors"

// Session error taxonomy. Everything here is recoverable: a failed operation
// always leaves the session able to accept a new Create.
var (
	// ErrNoSession is returned by operations that require an open session.
	ErrNoSession = errors.New("no file session open")

	// ErrSessionBusy is returned when deleting the file the active session
	// has open.
	ErrSessionBusy = errors.New("file is open in the active session")

	// ErrShortWrite is returned when storage reported writing fewer bytes
	// than the flush requested. The buffered bytes are retained for retry.
	ErrShortWrite = errors.New("storage short write")
)
