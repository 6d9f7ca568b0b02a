// Package progress renders transfer progress from the event bus: a single
// progressbar for one transfer, stacked mpb bars for batches, and plain
// line output when stderr is not a terminal.
package progress

import (
	"io"
	"os"

	"golang.org/x/term"

	"github.com/mediaflow/blobxfer/internal/events"
)

// Display consumes transfer events.
type Display interface {
	// Handle applies one event. Called from a single goroutine.
	Handle(ev events.Event)

	// Wait blocks until every bar has finished rendering.
	Wait()

	// Writer returns an io.Writer that safely outputs above the progress bars.
	Writer() io.Writer

	// IsTerminal returns true if output is to a terminal (progress bars are active)
	IsTerminal() bool
}

// New picks the display for totalFiles transfers on stderr.
func New(totalFiles int) Display {
	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))
	if isTerminal {
		enableANSI(os.Stderr)
	}
	if totalFiles == 1 {
		return newSingleUI(os.Stderr, isTerminal)
	}
	return newMultiUI(os.Stderr, isTerminal, totalFiles)
}

// Follow feeds every bus event to d until the bus is closed. The returned
// channel is closed once the last event has been handled.
func Follow(bus *events.EventBus, d Display) <-chan struct{} {
	ch := bus.SubscribeAll()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			d.Handle(ev)
		}
	}()
	return done
}
