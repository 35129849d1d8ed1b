// Package progress renders one spinner per in-flight job, grounded on the
// teacher's bb_spinner_manager.go: a chelnak/ysmrr SpinnerManager holding one
// named spinner per job, updated as the job's CurrentPhase/Progress/State
// log items arrive. A headless variant satisfies the same interface without
// starting the manager's render goroutine, for non-interactive runs (CI
// logs, piped output).
package progress

import (
	"fmt"
	"sync"

	"github.com/chelnak/ysmrr"

	"github.com/primeos-work/butido/internal/buildlog"
)

// Manager hands out one progress Bar per job and owns the render loop's
// lifecycle.
type Manager interface {
	// NewBar allocates a Bar labeled name, started immediately.
	NewBar(name string) buildlog.Bar
	// Start begins rendering. A headless Manager's Start is a no-op, so it
	// never spawns the render goroutine.
	Start()
	// Stop ends rendering and releases the terminal.
	Stop()
}

// spinnerManager is the interactive Manager: one ysmrr spinner per job.
type spinnerManager struct {
	manager ysmrr.SpinnerManager

	mu          sync.Mutex
	maxNameRune int
	bars        []*spinnerBar
}

// NewSpinnerManager builds an interactive progress Manager.
func NewSpinnerManager() Manager {
	return &spinnerManager{manager: ysmrr.NewSpinnerManager()}
}

func (m *spinnerManager) Start() { m.manager.Start() }
func (m *spinnerManager) Stop()  { m.manager.Stop() }

func (m *spinnerManager) NewBar(name string) buildlog.Bar {
	m.mu.Lock()
	defer m.mu.Unlock()

	nameLen := len([]rune(name))
	if nameLen > m.maxNameRune {
		m.maxNameRune = nameLen
		for _, b := range m.bars {
			b.setNameWidth(m.maxNameRune)
		}
	}

	spinner := m.manager.AddSpinner("")
	bar := &spinnerBar{spinner: spinner, name: name, nameWidth: m.maxNameRune}
	bar.render()
	m.bars = append(m.bars, bar)
	return bar
}

// spinnerBar adapts one ysmrr.Spinner to buildlog.Bar: a job name (padded to
// the widest name seen so far, so columns line up) followed by the current
// phase name and a percentage.
type spinnerBar struct {
	spinner *ysmrr.Spinner

	mu        sync.Mutex
	name      string
	nameWidth int
	message   string
	percent   uint
	done      bool
}

func (b *spinnerBar) setNameWidth(width int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nameWidth = width
	b.renderLocked()
}

func (b *spinnerBar) SetMessage(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.message = text
	b.renderLocked()
}

func (b *spinnerBar) SetProgress(position uint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.percent = position
	b.renderLocked()
}

func (b *spinnerBar) Complete(success *bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.done = true
	switch {
	case success == nil:
		b.spinner.ErrorWithMessage(b.displayMessage() + " (unknown)")
	case *success:
		b.spinner.CompleteWithMessage(b.displayMessage())
	default:
		b.spinner.ErrorWithMessage(b.displayMessage())
	}
}

func (b *spinnerBar) render() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.renderLocked()
}

func (b *spinnerBar) renderLocked() {
	b.spinner.UpdateMessage(b.displayMessage())
}

func (b *spinnerBar) displayMessage() string {
	name := b.name
	if pad := b.nameWidth - len([]rune(name)); pad > 0 {
		for i := 0; i < pad; i++ {
			name += " "
		}
	}
	if b.message == "" {
		return fmt.Sprintf("%s %3d%%", name, b.percent)
	}
	return fmt.Sprintf("%s %3d%% %s", name, b.percent, b.message)
}

// headlessManager satisfies Manager without ever touching the terminal: no
// render goroutine is spawned, since Start is a no-op.
type headlessManager struct{}

// NewHeadlessManager builds a Manager for non-interactive runs.
func NewHeadlessManager() Manager { return headlessManager{} }

func (headlessManager) Start() {}
func (headlessManager) Stop()  {}

func (headlessManager) NewBar(string) buildlog.Bar { return buildlog.NoOpBar{} }
