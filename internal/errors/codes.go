package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrAlreadyRunning  ErrorCode = "already_running"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Lifecycle errors
	ErrInitFailed      ErrorCode = "initialization_failed"
	ErrShutdownFailed  ErrorCode = "shutdown_failed"
	ErrShutdownTimeout ErrorCode = "shutdown_timeout"

	// Component errors
	ErrSourceRead       ErrorCode = "source_read_failed"
	ErrMalformedRequest ErrorCode = "malformed_request"
	ErrValidation       ErrorCode = "validation_failed"
	ErrUnknownMetric    ErrorCode = "unknown_metric"
	ErrUnknownAction    ErrorCode = "unknown_action"
	ErrPublish          ErrorCode = "publish_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:         "Internal error occurred",
	ErrInvalidArgument:  "Invalid argument provided",
	ErrAlreadyRunning:   "Another instance is already running",
	ErrInvalidConfig:    "Invalid configuration",
	ErrReadConfig:       "Failed to read configuration",
	ErrBindFlags:        "Failed to bind flags",
	ErrInvalidInterval:  "Invalid interval value",
	ErrInvalidLogLevel:  "Invalid log level",
	ErrInitFailed:       "Initialization failed",
	ErrShutdownFailed:   "Shutdown failed",
	ErrShutdownTimeout:  "Shutdown timed out",
	ErrSourceRead:       "Failed to read metric source",
	ErrMalformedRequest: "Malformed request payload",
	ErrValidation:       "Validation failed",
	ErrUnknownMetric:    "Unknown metric",
	ErrUnknownAction:    "Unknown action",
	ErrPublish:          "Failed to publish message",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
