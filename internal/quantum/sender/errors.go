package sender

import "errors"

// ErrPayloadNotFound is returned when no payload file exists at any
// configured or default location.
var ErrPayloadNotFound = errors.New("sender: payload file not found")

// ErrTransportSetupFailure is returned when the UDP endpoint could not be
// created or bound.
var ErrTransportSetupFailure = errors.New("sender: transport setup failure")

// ErrTransportSendFailure wraps an underlying I/O error (other than a
// timeout) encountered while writing to the transport.
var ErrTransportSendFailure = errors.New("sender: transport send failure")

// ErrTransportReceiveFailure wraps an underlying I/O error (other than a
// timeout) encountered while reading from the transport.
var ErrTransportReceiveFailure = errors.New("sender: transport receive failure")
