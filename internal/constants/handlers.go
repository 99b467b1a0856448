package constants

// Handler constants
const (
	// MaxUploadBytes is the largest multipart upload accepted by the API
	MaxUploadBytes = 10 << 20

	// DefaultEventListLimit is the number of history events returned when no limit is given
	DefaultEventListLimit = 30
)

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for event channels
	EventChannelBuffer = 100
)
