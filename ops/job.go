package ops

// Job is an operation running in its own goroutine. Events carries
// progress until the operation finishes; Wait blocks for the result.
type Job struct {
	Events <-chan Event
	done   <-chan error
}

// Start runs fn on a new goroutine. The progress callback handed to fn
// feeds the Events channel; slow consumers drop events rather than
// stalling the operation.
func Start(fn func(progress func(Event)) error) *Job {
	events := make(chan Event, 16)
	done := make(chan error, 1)
	go func() {
		defer close(events)
		done <- fn(func(ev Event) {
			select {
			case events <- ev:
			default:
			}
		})
	}()
	return &Job{Events: events, done: done}
}

// Wait blocks until the operation completes and returns its error.
// Pending events should be drained from Events first or concurrently.
func (j *Job) Wait() error {
	return <-j.done
}
