package quote

import "fmt"

// Status is the result code of a quoting runtime call.
type Status uint32

// Status codes returned by the AESM daemon.
const (
	StatusSuccess               Status = 0
	StatusUnexpectedError       Status = 1
	StatusNoDeviceError         Status = 2
	StatusParameterError        Status = 3
	StatusEPIDBlobError         Status = 4
	StatusEPIDRevokedError      Status = 5
	StatusNetworkError          Status = 12
	StatusNetworkBusyError      Status = 13
	StatusServiceStopped        Status = 17
	StatusBusy                  Status = 18
	StatusBackendServerBusy     Status = 19
	StatusOutOfMemoryError      Status = 21
	StatusSGXDeviceNotAvailable Status = 24
)

var statusNames = map[Status]string{
	StatusSuccess:               "success",
	StatusUnexpectedError:       "unexpected error",
	StatusNoDeviceError:         "no SGX device",
	StatusParameterError:        "invalid parameter",
	StatusEPIDBlobError:         "EPID blob error",
	StatusEPIDRevokedError:      "EPID group revoked",
	StatusNetworkError:          "network error",
	StatusNetworkBusyError:      "network busy",
	StatusServiceStopped:        "service stopped",
	StatusBusy:                  "busy",
	StatusBackendServerBusy:     "backend server busy",
	StatusOutOfMemoryError:      "out of memory",
	StatusSGXDeviceNotAvailable: "SGX device not available",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status %d", uint32(s))
}

// Error lets a non-success Status be returned as an error.
func (s Status) Error() string {
	return fmt.Sprintf("quoting runtime returned %s (%d)", s.String(), uint32(s))
}
