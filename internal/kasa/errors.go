package kasa

import "errors"

var (
	// ErrUnexpectedResponse indicates a reply that does not match the request shape.
	ErrUnexpectedResponse = errors.New("kasa: unexpected response")
	// ErrDeviceError indicates a reply carrying a non-zero err_code.
	ErrDeviceError = errors.New("kasa: device returned error")
)
