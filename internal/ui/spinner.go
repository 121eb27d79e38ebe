package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// Spinner is a blocking-free line spinner for the steps before the call
// screen takes over the terminal.
type Spinner struct {
	message  string
	frames   []string
	interval time.Duration

	mu      sync.Mutex
	done    chan struct{}
	stopped bool
}

func newSpinner(message string, s spinner.Spinner) *Spinner {
	return &Spinner{
		message:  message,
		frames:   s.Frames,
		interval: s.FPS,
		done:     make(chan struct{}),
	}
}

func (s *Spinner) Start() {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			frame := SpinnerStyle.Render(s.frames[i%len(s.frames)])
			fmt.Printf("\r%s %s", frame, s.message)
			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop clears the spinner line. It is safe to call more than once.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.done)
	fmt.Print("\r\033[K")
}

// RunConnectSpinner shows progress while dialing the relay.
func RunConnectSpinner(message string) func() {
	sp := newSpinner(message, spinner.Globe)
	sp.Start()
	return sp.Stop
}

// RunSpinner shows progress for short local steps.
func RunSpinner(message string) func() {
	sp := newSpinner(message, spinner.Dot)
	sp.Start()
	return sp.Stop
}
