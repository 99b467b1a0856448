package inbox

import (
	"path/filepath"
	"strings"
)

// State is a step of one file's flow through the inbox.
type State int

const (
	StateDetected State = iota
	StateStabilizing
	StateProcessing
	StatePublished
	StateRejected
	StateCleaned
)

func (s State) String() string {
	switch s {
	case StateDetected:
		return "detected"
	case StateStabilizing:
		return "stabilizing"
	case StateProcessing:
		return "processing"
	case StatePublished:
		return "published"
	case StateRejected:
		return "rejected"
	case StateCleaned:
		return "cleaned"
	default:
		return "unknown"
	}
}

// fileKind says what the inbox does with a file name.
type fileKind int

const (
	kindIgnore  fileKind = iota // never touched
	kindProcess                 // recognized
	kindReject                  // claimed and deleted unprocessed
)

var (
	processExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}
	rejectExts  = map[string]bool{
		".gif": true, ".bmp": true, ".webp": true,
		".tif": true, ".tiff": true, ".heic": true,
	}
)

func classify(name string) fileKind {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return kindIgnore
	}
	ext := strings.ToLower(filepath.Ext(base))
	switch {
	case processExts[ext]:
		return kindProcess
	case rejectExts[ext]:
		return kindReject
	default:
		return kindIgnore
	}
}
