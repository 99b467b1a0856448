package inbox

import (
	"sync"
	"time"
)

// debouncer fires fn for a path once no event touched it for delay.
// Every touch restarts the path's timer.
type debouncer struct {
	delay time.Duration
	fn    func(path string)

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
	running sync.WaitGroup
}

func newDebouncer(delay time.Duration, fn func(path string)) *debouncer {
	return &debouncer{
		delay:  delay,
		fn:     fn,
		timers: make(map[string]*time.Timer),
	}
}

// touch starts or restarts the timer for path. It reports whether the
// path was already pending.
func (d *debouncer) touch(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return false
	}
	if t, ok := d.timers[path]; ok {
		t.Stop()
		d.timers[path] = d.newTimer(path)
		return true
	}
	d.timers[path] = d.newTimer(path)
	return false
}

func (d *debouncer) newTimer(path string) *time.Timer {
	var t *time.Timer
	t = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		// A restarted timer may still fire once; only the current one counts.
		if d.stopped || d.timers[path] != t {
			d.mu.Unlock()
			return
		}
		delete(d.timers, path)
		d.running.Add(1)
		d.mu.Unlock()

		defer d.running.Done()
		d.fn(path)
	})
	return t
}

// cancel drops a pending path.
func (d *debouncer) cancel(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[path]; ok {
		t.Stop()
		delete(d.timers, path)
	}
}

func (d *debouncer) pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// stop cancels every pending timer and waits for callbacks already running.
func (d *debouncer) stop() {
	d.mu.Lock()
	d.stopped = true
	for path, t := range d.timers {
		t.Stop()
		delete(d.timers, path)
	}
	d.mu.Unlock()
	d.running.Wait()
}
