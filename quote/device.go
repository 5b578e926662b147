//go:build linux

package quote

import "golang.org/x/sys/unix"

// sgxDevices are the device nodes of the in-kernel driver and the out-of-tree drivers.
var sgxDevices = []string{
	"/dev/sgx_enclave",
	"/dev/sgx/enclave",
	"/dev/isgx",
}

// DeviceAvailable reports whether an SGX device node can be opened for reading and writing.
func DeviceAvailable() bool {
	_, ok := availableDevice(sgxDevices)
	return ok
}

func availableDevice(candidates []string) (string, bool) {
	for _, dev := range candidates {
		if unix.Access(dev, unix.R_OK|unix.W_OK) == nil {
			return dev, true
		}
	}
	return "", false
}
