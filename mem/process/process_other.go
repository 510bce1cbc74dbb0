//go:build !linux && !windows

package process

// Self returns a handle to the current process.
func Self() (Handle, error) { return nil, ErrUnsupported }

// Open returns a handle to the process with the given pid.
func Open(pid int) (Handle, error) { return nil, ErrUnsupported }
