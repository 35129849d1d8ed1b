// Package buildlog implements the log receiver that drains a running job's
// log stream into an accumulator and an on-disk file, grounded on
// original_source/src/endpoint/scheduler.rs's LogReceiver state machine and
// shaped like a logging pipeline, one stage owning one concern. The
// Receiver holds an injectable clock but writes no timestamps.
package buildlog

import (
	"fmt"
	"os"
	"strings"

	"github.com/benbjohnson/clock"

	"github.com/primeos-work/butido/internal/gerror"
	"github.com/primeos-work/butido/internal/models"
)

// ItemKind distinguishes the LogItem variants the container run emits.
type ItemKind string

const (
	ItemLine         ItemKind = "Line"
	ItemProgress     ItemKind = "Progress"
	ItemCurrentPhase ItemKind = "CurrentPhase"
	ItemState        ItemKind = "State"
)

// LogItem is one message in the stream a running container emits.
type LogItem struct {
	Kind ItemKind

	// Line holds the text of an ItemLine item.
	Line string

	// Progress holds the new bar position of an ItemProgress item.
	Progress uint

	// Phase holds the phase name of an ItemCurrentPhase item.
	Phase string

	// Success holds the outcome of an ItemState item: true for State(Ok),
	// false for State(Err). StateMessage carries the accompanying text.
	Success      bool
	StateMessage string
}

func Line(text string) LogItem         { return LogItem{Kind: ItemLine, Line: text} }
func Progress(position uint) LogItem   { return LogItem{Kind: ItemProgress, Progress: position} }
func CurrentPhase(phase string) LogItem { return LogItem{Kind: ItemCurrentPhase, Phase: phase} }
func StateOk(message string) LogItem    { return LogItem{Kind: ItemState, Success: true, StateMessage: message} }
func StateErr(message string) LogItem   { return LogItem{Kind: ItemState, Success: false, StateMessage: message} }

// Bar is the subset of progress-reporting a log receiver drives; the
// progress package's per-job spinner satisfies it, as does a no-op in
// headless mode.
type Bar interface {
	SetProgress(position uint)
	SetMessage(text string)
	Complete(success *bool)
}

// NoOpBar implements Bar without rendering anything.
type NoOpBar struct{}

func (NoOpBar) SetProgress(uint)      {}
func (NoOpBar) SetMessage(string)     {}
func (NoOpBar) Complete(*bool)        {}

// Receiver drains a LogItem stream for one job, writing Line text to an
// exclusively-created log file and an in-memory accumulator simultaneously,
// and reports an outcome once the stream closes.
type Receiver struct {
	clk    clock.Clock
	logDir string
}

func NewReceiver(clk clock.Clock, logDir string) *Receiver {
	if clk == nil {
		clk = clock.New()
	}
	return &Receiver{clk: clk, logDir: logDir}
}

// Result is what Drain returns once the stream closes.
type Result struct {
	// Log is the joined log, newline-delimited, in arrival order.
	Log string
	// Success is nil if the stream closed without ever reporting a State
	// item (indeterminate), true if the last State item was Ok, false if Err.
	Success *bool
}

// Drain consumes items until the channel closes, writing each Line to the
// job's log file (if logDir is configured) as well as an accumulator, and
// driving bar for Progress/CurrentPhase/State items. Log-file I/O failure is
// fatal; accumulator loss is never tolerated, so the accumulator is built
// in-memory regardless of file outcome.
func (r *Receiver) Drain(jobID models.JobID, items <-chan LogItem, bar Bar) (Result, error) {
	if bar == nil {
		bar = NoOpBar{}
	}

	var file *os.File
	if r.logDir != "" {
		path := fmt.Sprintf("%s/%s.log", r.logDir, jobID.String())
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err != nil {
			return Result{}, gerror.WrapErrLogIO(fmt.Sprintf("error creating log file %s", path), err)
		}
		file = f
		defer file.Close()
	}

	var accumulator strings.Builder
	var success *bool

	for item := range items {
		switch item.Kind {
		case ItemLine:
			accumulator.WriteString(item.Line)
			accumulator.WriteByte('\n')
			if file != nil {
				if _, err := file.WriteString(item.Line + "\n"); err != nil {
					return Result{Log: accumulator.String(), Success: success}, gerror.WrapErrLogIO("error writing job log line", err)
				}
			}
		case ItemProgress:
			bar.SetProgress(item.Progress)
		case ItemCurrentPhase:
			bar.SetMessage(item.Phase)
		case ItemState:
			s := item.Success
			success = &s
		}
	}

	if file != nil {
		if err := file.Sync(); err != nil {
			return Result{Log: accumulator.String(), Success: success}, gerror.WrapErrLogIO("error flushing job log file", err)
		}
	}
	bar.Complete(success)

	return Result{Log: accumulator.String(), Success: success}, nil
}
