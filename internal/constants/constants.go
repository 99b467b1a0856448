// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Recognition defaults
const (
	// DefaultRecognitionThreshold is the minimum cosine similarity for a matched verdict
	DefaultRecognitionThreshold = 0.30

	// DefaultEnrollThreshold is the minimum score a matched verdict needs to be auto-enrolled
	DefaultEnrollThreshold = 0.50

	// DefaultVotingTopK is the number of globally best gallery images that vote for a person
	DefaultVotingTopK = 3

	// MaxVotingTopK bounds the voting slice size accepted from settings
	MaxVotingTopK = 10

	// DefaultMaxImagesPerPerson is the gallery cap per person
	DefaultMaxImagesPerPerson = 10

	// MaxImagesPerPersonLimit bounds the cap accepted from settings
	MaxImagesPerPersonLimit = 100
)

// Face crop constants
const (
	// FaceCropPadding is the number of pixels added around a detected face box
	FaceCropPadding = 60

	// FaceCropMinSize is the minimum edge of a stored face crop; smaller crops are upscaled
	FaceCropMinSize = 360

	// HistoryThumbSize is the maximum edge of a recognition history thumbnail
	HistoryThumbSize = 320

	// JPEGQuality is used for every JPEG written by the service
	JPEGQuality = 90
)

// Inbox constants
const (
	// DefaultInboxWorkers is the number of concurrent per-file flows
	DefaultInboxWorkers = 2

	// DefaultInboxQueueSize bounds the number of claimed files waiting for a worker
	DefaultInboxQueueSize = 64

	// DefaultStabilizeDelay is the quiet period a file must observe before it is processed
	DefaultStabilizeDelay = 500 * time.Millisecond

	// DefaultMaxFileBytes is the largest inbox file accepted for recognition
	DefaultMaxFileBytes = 8 << 20
)

// History constants
const (
	// DefaultHistoryLimit is the number of recognition events kept
	DefaultHistoryLimit = 30
)

// MQTT constants
const (
	// DefaultMQTTTopic is the custom topic that receives the detection payload
	DefaultMQTTTopic = "homeassistant/face_recognition"

	// DefaultMQTTQueueSize bounds pending detections while the broker is slow or unreachable
	DefaultMQTTQueueSize = 32

	// MQTTConnectTimeout bounds a single connection attempt
	MQTTConnectTimeout = 30 * time.Second

	// MQTTPublishTimeout bounds a single publish
	MQTTPublishTimeout = 10 * time.Second

	// MQTTDisconnectQuiesce is the paho quiesce period in milliseconds
	MQTTDisconnectQuiesce = 250
)

// Retrain constants
const (
	// RetrainProgressInterval is how often the progress stream emits a snapshot
	RetrainProgressInterval = 500 * time.Millisecond
	// RetrainCatchUpPasses bounds the rescans for images enrolled with the
	// old tier while a retrain was running
	RetrainCatchUpPasses = 3
)
