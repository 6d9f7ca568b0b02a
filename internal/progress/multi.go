package progress

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/mediaflow/blobxfer/internal/events"
)

// MultiUI manages concurrent transfer bars using mpb.
type MultiUI struct {
	progress   *mpb.Progress
	out        io.Writer
	bars       map[string]*fileBar // task ID -> bar
	isTerminal bool
	totalFiles int
	started    int
}

type fileBar struct {
	bar        *mpb.Bar
	index      int
	label      string
	size       int64
	startTime  time.Time
	lastUpdate time.Time
	lastBytes  int64
}

func newMultiUI(out io.Writer, isTerminal bool, totalFiles int) *MultiUI {
	var p *mpb.Progress
	if isTerminal {
		p = mpb.New(
			mpb.WithOutput(out),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(100),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}
	return &MultiUI{
		progress:   p,
		out:        out,
		bars:       make(map[string]*fileBar),
		isTerminal: isTerminal,
		totalFiles: totalFiles,
	}
}

// Handle implements Display.
func (u *MultiUI) Handle(ev events.Event) {
	switch e := ev.(type) {
	case *events.TransferStateEvent:
		if e.Type() == events.EventTransferStarted {
			u.addBar(e)
		}
	case *events.TransferProgressEvent:
		u.update(e)
	case *events.TransferCompletedEvent:
		u.complete(e)
	case *events.LogEvent:
		if e.Level >= events.WarnLevel {
			fmt.Fprintln(u.Writer(), formatLog(e))
		}
	}
}

func (u *MultiUI) addBar(e *events.TransferStateEvent) {
	u.started++
	fb := &fileBar{
		index:      u.started,
		label:      describe(e.TransferType, e.LocalPath, e.URI),
		size:       e.TotalBytes,
		startTime:  time.Now(),
		lastUpdate: time.Now(),
	}
	u.bars[e.TaskID] = fb

	if !u.isTerminal {
		fmt.Fprintf(u.out, "[%d/%d] %s (%s)\n", fb.index, u.totalFiles, fb.label, formatMiB(fb.size))
		return
	}

	fb.bar = u.progress.New(e.TotalBytes,
		mpb.BarStyle().
			Lbound("[").
			Filler("█").
			Tip("█").
			Padding("░").
			Rbound("]"),
		mpb.PrependDecorators(
			decor.Name(fmt.Sprintf("[%d/%d] %s", fb.index, u.totalFiles, fb.label), decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
			decor.Name("  "),
			decor.Percentage(decor.WCSyncSpace),
			decor.Name("  "),
			decor.EwmaSpeed(decor.SizeB1024(0), "% .1f", 30, decor.WCSyncSpace),
			decor.Name("  "),
			decor.Name("ETA ", decor.WCSyncWidth),
			decor.EwmaETA(decor.ET_STYLE_GO, 30),
		),
		mpb.BarRemoveOnComplete(),
	)
}

// update feeds mpb's EWMA with the bytes since the last report. Reports can
// arrive out of order; stale ones are ignored.
func (u *MultiUI) update(e *events.TransferProgressEvent) {
	fb := u.bars[e.TaskID]
	if fb == nil || fb.bar == nil || e.BytesTransferred <= fb.lastBytes {
		return
	}
	now := time.Now()
	fb.bar.EwmaIncrBy(int(e.BytesTransferred-fb.lastBytes), now.Sub(fb.lastUpdate))
	fb.lastBytes = e.BytesTransferred
	fb.lastUpdate = now
}

func (u *MultiUI) complete(e *events.TransferCompletedEvent) {
	fb := u.bars[e.TaskID]
	if fb == nil {
		// Rejected before it started.
		fb = &fileBar{label: describe(e.TransferType, e.LocalPath, e.URI), startTime: time.Now()}
	}
	delete(u.bars, e.TaskID)

	elapsed := time.Since(fb.startTime)
	var msg string
	switch {
	case e.Cancelled:
		if fb.bar != nil {
			fb.bar.Abort(true)
		}
		msg = fmt.Sprintf("- %s cancelled\n", fb.label)
	case e.Error != nil:
		if fb.bar != nil {
			fb.bar.Abort(false)
		}
		msg = fmt.Sprintf("✗ %s: %v\n", fb.label, e.Error)
	default:
		if fb.bar != nil {
			fb.bar.SetCurrent(fb.size)
			fb.bar.SetTotal(fb.size, true)
		}
		speed := 0.0
		if elapsed > 0 {
			speed = float64(e.Bytes) / elapsed.Seconds() / (1024 * 1024)
		}
		msg = fmt.Sprintf("✓ %s (%s, %s, %.1f MiB/s)\n", fb.label, formatMiB(fb.size), elapsed.Round(time.Second), speed)
	}

	// Write through mpb's writer so the bars are not redrawn over the message.
	if u.isTerminal {
		u.progress.Write([]byte(msg))
	} else {
		fmt.Fprint(u.out, msg)
	}
}

// Wait implements Display.
func (u *MultiUI) Wait() {
	u.progress.Wait()
}

// Writer implements Display.
func (u *MultiUI) Writer() io.Writer {
	if u.isTerminal {
		return u.progress
	}
	return u.out
}

// IsTerminal implements Display.
func (u *MultiUI) IsTerminal() bool {
	return u.isTerminal
}

func describe(t events.TransferType, localPath, uri string) string {
	remote := uri
	if i := strings.IndexByte(remote, '?'); i >= 0 {
		remote = remote[:i]
	}
	if t == events.TransferDownload {
		return fmt.Sprintf("%s ← %s", truncatePath(localPath, 2), remote)
	}
	return fmt.Sprintf("%s → %s", truncatePath(localPath, 2), remote)
}

// formatLog renders a bus log event as one line.
func formatLog(e *events.LogEvent) string {
	if e.Error != nil {
		return fmt.Sprintf("%s %s: %v", e.Level, e.Message, e.Error)
	}
	return fmt.Sprintf("%s %s", e.Level, e.Message)
}

func formatMiB(n int64) string {
	return fmt.Sprintf("%.1f MiB", float64(n)/(1024*1024))
}

// truncatePath truncates a file path to show only the last N components
// Example: truncatePath("/a/b/c/d/file.txt", 3) → "…/c/d/file.txt"
func truncatePath(path string, maxComponents int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= maxComponents {
		return filepath.Base(path)
	}
	relevant := parts[len(parts)-maxComponents:]
	return "…/" + strings.Join(relevant, "/")
}
