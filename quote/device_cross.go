//go:build !linux
// +build !linux

package quote

// DeviceAvailable reports whether an SGX device node can be opened for reading and writing.
// SGX is only supported on linux.
func DeviceAvailable() bool {
	return false
}
