package retrain

import (
	"sync"
	"time"

	"github.com/kozaktomas/faceinbox/internal/constants"
)

// Status is the lifecycle state of the coordinator.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusCounting  Status = "counting"
	StatusTraining  Status = "training"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a run in this state has finished.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Result summarizes a finished run.
type Result struct {
	RunID     string        `json:"run_id"`
	Tier      string        `json:"tier"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Cancelled bool          `json:"cancelled"`
	Duration  time.Duration `json:"duration_ns"`
}

// Progress is a point-in-time view of the coordinator.
type Progress struct {
	RunID         string     `json:"run_id,omitempty"`
	IsRunning     bool       `json:"is_running"`
	Status        Status     `json:"status"`
	Tier          string     `json:"tier,omitempty"`
	Current       int        `json:"current"`
	Total         int        `json:"total"`
	CurrentPerson string     `json:"current_person,omitempty"`
	Succeeded     int        `json:"succeeded"`
	Failed        int        `json:"failed"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	Error         string     `json:"error,omitempty"`
	LastResult    *Result    `json:"last_result,omitempty"`
}

// broadcaster fans progress snapshots out to listeners. Slow listeners
// miss intermediate snapshots.
type broadcaster struct {
	mu        sync.Mutex
	listeners []chan Progress
}

func (b *broadcaster) add() chan Progress {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Progress, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

func (b *broadcaster) remove(ch chan Progress) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

func (b *broadcaster) send(p Progress) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, listener := range b.listeners {
		select {
		case listener <- p:
		default:
		}
	}
}
