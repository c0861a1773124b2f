package model

// ErrorKind categorizes failures raised by the supervisor and the
// monitoring loops.
type ErrorKind int

const (
	ErrNone ErrorKind = iota
	ErrConfigurationInvalid
	ErrInitializationFailed
	ErrProcessStartFailed
	ErrProcessCrashed
	ErrPermissionDenied
	ErrNetworkError
	ErrResourceExhausted
	ErrCollectionFailed
	ErrMaxRetriesExceeded
	ErrSingboxNotRunning
	ErrProcessingError
	ErrUnknown
)

var errorKindNames = map[ErrorKind]string{
	ErrNone:                 "None",
	ErrConfigurationInvalid: "ConfigurationInvalid",
	ErrInitializationFailed: "InitializationFailed",
	ErrProcessStartFailed:   "ProcessStartFailed",
	ErrProcessCrashed:       "ProcessCrashed",
	ErrPermissionDenied:     "PermissionDenied",
	ErrNetworkError:         "NetworkError",
	ErrResourceExhausted:    "ResourceExhausted",
	ErrCollectionFailed:     "CollectionFailed",
	ErrMaxRetriesExceeded:   "MaxRetriesExceeded",
	ErrSingboxNotRunning:    "SingboxNotRunning",
	ErrProcessingError:      "ProcessingError",
	ErrUnknown:              "UnknownError",
}

// String returns the error kind name used in logs and the event stream.
func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return "UnknownError"
}

// ParseErrorKind maps a kind name back to its value. Unrecognized names
// come back as ErrUnknown.
func ParseErrorKind(name string) ErrorKind {
	for kind, n := range errorKindNames {
		if n == name {
			return kind
		}
	}
	return ErrUnknown
}

// Retryable reports whether the kind is a transient failure that local
// bounded retry is allowed to absorb. Validation and structural failures
// are never retried.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrNetworkError, ErrCollectionFailed:
		return true
	default:
		return false
	}
}
