package telemetry

import "sync"

// FakePublisher records published telemetry for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	// HeaterLines contains every line given to PublishHeaters.
	HeaterLines []string

	// WaitEvents contains every event given to PublishWait.
	WaitEvents []WaitEvent

	// PublishError, if set, is returned by both publish methods.
	PublishError error

	// Closed tracks whether Close was called.
	Closed bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

func (f *FakePublisher) PublishHeaters(line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.HeaterLines = append(f.HeaterLines, line)
	return nil
}

func (f *FakePublisher) PublishWait(event WaitEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.WaitEvents = append(f.WaitEvents, event)
	return nil
}

func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Events returns a copy of the recorded wait events.
func (f *FakePublisher) Events() []WaitEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]WaitEvent, len(f.WaitEvents))
	copy(out, f.WaitEvents)
	return out
}

// Lines returns a copy of the recorded heater lines.
func (f *FakePublisher) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.HeaterLines))
	copy(out, f.HeaterLines)
	return out
}
