package mcclient

import "errors"

var (
	// ErrConnConfigNil indicates that a nil ConnectionConfig was provided.
	ErrConnConfigNil = errors.New("connection config is nil")

	// ErrTransport indicates a socket level failure: dial, write or read errors, and ASCII
	// replies that can't be transcoded. Transport errors reset the connection.
	ErrTransport = errors.New("transport error")

	// ErrWriteInProgress indicates that a write cycle was requested while another one is
	// still queued or outstanding.
	ErrWriteInProgress = errors.New("write cycle already in progress")

	// ErrClientClosed indicates an operation on a client that has been closed.
	ErrClientClosed = errors.New("client closed")

	// ErrNotOpened indicates a cycle requested before Open was called.
	ErrNotOpened = errors.New("client not opened")

	// ErrInvalidTransition indicates a connection state change that the state machine doesn't allow.
	ErrInvalidTransition = errors.New("invalid connection state transition")
)

// ErrCloseTimeout indicates that Close gave up waiting for pending cycles to complete.
var ErrCloseTimeout = errors.New("close timeout")
