package driver

import "fmt"

// Status is a driver result code. Values are the ones of CUresult in the CUDA driver API, so
// they can be cross-referenced with NVIDIA's documentation.
type Status int32

const (
	Success                      Status = 0
	ErrorInvalidValue            Status = 1
	ErrorOutOfMemory             Status = 2
	ErrorNotInitialized          Status = 3
	ErrorDeinitialized           Status = 4
	ErrorNoDevice                Status = 100
	ErrorInvalidDevice           Status = 101
	ErrorInvalidImage            Status = 200
	ErrorInvalidContext          Status = 201
	ErrorNoBinaryForGPU          Status = 209
	ErrorInvalidPTX              Status = 218
	ErrorInvalidSource           Status = 300
	ErrorFileNotFound            Status = 301
	ErrorInvalidHandle           Status = 400
	ErrorNotFound                Status = 500
	ErrorNotReady                Status = 600
	ErrorIllegalAddress          Status = 700
	ErrorLaunchOutOfResources    Status = 701
	ErrorLaunchTimeout           Status = 702
	ErrorContextIsDestroyed      Status = 709
	ErrorLaunchFailed            Status = 719
	ErrorNotSupported            Status = 801
	ErrorUnknown                 Status = 999
	ErrorLaunchIncompatibleTexts Status = 703
)

var statusNames = map[Status]string{
	Success:                      "CUDA_SUCCESS",
	ErrorInvalidValue:            "CUDA_ERROR_INVALID_VALUE",
	ErrorOutOfMemory:             "CUDA_ERROR_OUT_OF_MEMORY",
	ErrorNotInitialized:          "CUDA_ERROR_NOT_INITIALIZED",
	ErrorDeinitialized:           "CUDA_ERROR_DEINITIALIZED",
	ErrorNoDevice:                "CUDA_ERROR_NO_DEVICE",
	ErrorInvalidDevice:           "CUDA_ERROR_INVALID_DEVICE",
	ErrorInvalidImage:            "CUDA_ERROR_INVALID_IMAGE",
	ErrorInvalidContext:          "CUDA_ERROR_INVALID_CONTEXT",
	ErrorNoBinaryForGPU:          "CUDA_ERROR_NO_BINARY_FOR_GPU",
	ErrorInvalidPTX:              "CUDA_ERROR_INVALID_PTX",
	ErrorInvalidSource:           "CUDA_ERROR_INVALID_SOURCE",
	ErrorFileNotFound:            "CUDA_ERROR_FILE_NOT_FOUND",
	ErrorInvalidHandle:           "CUDA_ERROR_INVALID_HANDLE",
	ErrorNotFound:                "CUDA_ERROR_NOT_FOUND",
	ErrorNotReady:                "CUDA_ERROR_NOT_READY",
	ErrorIllegalAddress:          "CUDA_ERROR_ILLEGAL_ADDRESS",
	ErrorLaunchOutOfResources:    "CUDA_ERROR_LAUNCH_OUT_OF_RESOURCES",
	ErrorLaunchTimeout:           "CUDA_ERROR_LAUNCH_TIMEOUT",
	ErrorLaunchIncompatibleTexts: "CUDA_ERROR_LAUNCH_INCOMPATIBLE_TEXTURING",
	ErrorContextIsDestroyed:      "CUDA_ERROR_CONTEXT_IS_DESTROYED",
	ErrorLaunchFailed:            "CUDA_ERROR_LAUNCH_FAILED",
	ErrorNotSupported:            "CUDA_ERROR_NOT_SUPPORTED",
	ErrorUnknown:                 "CUDA_ERROR_UNKNOWN",
}

// Ok returns whether the status is Success.
func (s Status) Ok() bool { return s == Success }

// String returns the CUresult name and the numeric code, e.g. "CUDA_ERROR_OUT_OF_MEMORY (2)".
func (s Status) String() string {
	if name, found := statusNames[s]; found {
		return fmt.Sprintf("%s (%d)", name, int32(s))
	}
	return fmt.Sprintf("CUDA_ERROR(%d)", int32(s))
}

// Error implements error, so a non-successful Status can be returned as is.
func (s Status) Error() string {
	return s.String()
}
