//go:build !linux

package executor

import "errors"

// RunHelper is never spawned off Linux; the parent runs commands directly.
func RunHelper([]string) error {
	return errors.New("sandbox helper unsupported on this platform")
}
