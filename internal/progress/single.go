package progress

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"

	"github.com/mediaflow/blobxfer/internal/events"
)

// SingleUI shows one progressbar for a lone transfer.
type SingleUI struct {
	out        io.Writer
	isTerminal bool
	bar        *progressbar.ProgressBar
}

func newSingleUI(out io.Writer, isTerminal bool) *SingleUI {
	return &SingleUI{out: out, isTerminal: isTerminal}
}

// Handle implements Display.
func (p *SingleUI) Handle(ev events.Event) {
	switch e := ev.(type) {
	case *events.TransferStateEvent:
		if e.Type() != events.EventTransferStarted {
			return
		}
		p.start(e)
	case *events.TransferProgressEvent:
		if p.bar != nil {
			_ = p.bar.Set64(e.BytesTransferred)
		}
	case *events.TransferCompletedEvent:
		p.finish(e)
	case *events.LogEvent:
		if e.Level >= events.WarnLevel {
			fmt.Fprintf(p.out, "\n%s\n", formatLog(e))
		}
	}
}

func (p *SingleUI) start(e *events.TransferStateEvent) {
	desc := describe(e.TransferType, e.LocalPath, e.URI)
	if !p.isTerminal {
		fmt.Fprintf(p.out, "%s (%s)\n", desc, formatMiB(e.TotalBytes))
		return
	}
	p.bar = progressbar.NewOptions64(e.TotalBytes,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(p.out, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func (p *SingleUI) finish(e *events.TransferCompletedEvent) {
	switch {
	case e.Cancelled:
		if p.bar != nil {
			_ = p.bar.Exit()
		}
		fmt.Fprintf(p.out, "\n%s cancelled after %s\n", truncatePath(e.LocalPath, 2), formatMiB(e.Bytes))
	case e.Error != nil:
		if p.bar != nil {
			_ = p.bar.Exit()
		}
		fmt.Fprintf(p.out, "\nError: %v\n", e.Error)
	default:
		if p.bar != nil {
			_ = p.bar.Finish()
		} else {
			fmt.Fprintf(p.out, "✓ %s (%s)\n", truncatePath(e.LocalPath, 2), formatMiB(e.Bytes))
		}
	}
}

// Wait implements Display.
func (p *SingleUI) Wait() {}

// Writer implements Display.
func (p *SingleUI) Writer() io.Writer { return p.out }

// IsTerminal implements Display.
func (p *SingleUI) IsTerminal() bool { return p.isTerminal }
