package view

import (
	"fmt"
	"io"
	"sync"

	"scanreader/internal/models"
)

// ScriptedDialogs answers prompts with preset values. The HTTP API and the
// command line tool set the answers from request parameters or flags before
// triggering an operation; tests use it to drive and inspect the flow.
type ScriptedDialogs struct {
	mu       sync.Mutex
	options  *models.OcrOptions
	savePath string
	out      io.Writer

	prompts  []OptionsPrompt
	waits    []*scriptedWait
	progress []*ScriptedProgress
}

// NewScriptedDialogs creates dialogs that cancel every prompt until answers
// are set. Progress lines are written to out when it is non-nil.
func NewScriptedDialogs(out io.Writer) *ScriptedDialogs {
	return &ScriptedDialogs{out: out}
}

// SetOptions sets the answer of the options dialog; nil means cancel.
func (d *ScriptedDialogs) SetOptions(opts *models.OcrOptions) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if opts == nil {
		d.options = nil
		return
	}
	o := *opts
	o.ImageProcessingPipelines = append([]string(nil), opts.ImageProcessingPipelines...)
	d.options = &o
}

// SetSavePath sets the answer of the save dialog; empty means cancel.
func (d *ScriptedDialogs) SetSavePath(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.savePath = path
}

// PromptOptions fills the answer's language from the offered list: an empty
// code picks the first language, an unknown code cancels.
func (d *ScriptedDialogs) PromptOptions(prompt OptionsPrompt) (models.OcrOptions, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prompts = append(d.prompts, prompt)

	if d.options == nil || len(prompt.Languages) == 0 {
		return models.OcrOptions{}, false
	}
	opts := *d.options
	opts.ImageProcessingPipelines = append([]string(nil), d.options.ImageProcessingPipelines...)

	if opts.Language.Code == "" {
		opts.Language = prompt.Languages[0]
	} else {
		found := false
		for _, lang := range prompt.Languages {
			if lang.Code == opts.Language.Code {
				opts.Language = lang
				found = true
				break
			}
		}
		if !found {
			return models.OcrOptions{}, false
		}
	}
	if opts.ZoomFactor <= 0 {
		opts.ZoomFactor = 1
	}
	return opts, true
}

func (d *ScriptedDialogs) PromptSavePath(suggested string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.savePath == "" {
		return "", false
	}
	return d.savePath, true
}

// Prompts returns every options prompt shown so far.
func (d *ScriptedDialogs) Prompts() []OptionsPrompt {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]OptionsPrompt(nil), d.prompts...)
}

type scriptedWait struct {
	msg       string
	onCancel  func()
	dismissed bool
}

func (d *ScriptedDialogs) ShowWait(msg string, onCancel func()) WaitHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	w := &scriptedWait{msg: msg, onCancel: onCancel}
	d.waits = append(d.waits, w)
	return &waitHandle{d: d, w: w}
}

type waitHandle struct {
	d *ScriptedDialogs
	w *scriptedWait
}

func (h *waitHandle) Dismiss() {
	h.d.mu.Lock()
	defer h.d.mu.Unlock()
	h.w.dismissed = true
}

// OpenWaits counts wait indicators not yet dismissed.
func (d *ScriptedDialogs) OpenWaits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, w := range d.waits {
		if !w.dismissed {
			n++
		}
	}
	return n
}

// PressCancel triggers the cancel affordance of the newest open wait
// indicator. It reports whether one was open.
func (d *ScriptedDialogs) PressCancel() bool {
	d.mu.Lock()
	var target *scriptedWait
	for i := len(d.waits) - 1; i >= 0; i-- {
		if !d.waits[i].dismissed {
			target = d.waits[i]
			break
		}
	}
	d.mu.Unlock()

	if target == nil || target.onCancel == nil {
		return false
	}
	target.onCancel()
	return true
}

// ScriptedProgress records what a progress indicator displayed.
type ScriptedProgress struct {
	mu        sync.Mutex
	Title     string
	Max       int
	Values    []int
	Messages  []string
	Dismissed bool
	onAbort   func()
	out       io.Writer
}

func (d *ScriptedDialogs) ShowProgress(title, msg string, max int, onAbort func()) ProgressHandle {
	p := &ScriptedProgress{Title: title, Max: max, Messages: []string{msg}, onAbort: onAbort, out: d.out}
	d.mu.Lock()
	d.progress = append(d.progress, p)
	d.mu.Unlock()
	if p.out != nil {
		fmt.Fprintf(p.out, "%s: %s\n", title, msg)
	}
	return p
}

func (p *ScriptedProgress) Update(value int, msg string) {
	p.mu.Lock()
	p.Values = append(p.Values, value)
	p.Messages = append(p.Messages, msg)
	p.mu.Unlock()
	if p.out != nil {
		fmt.Fprintf(p.out, "[%d/%d] %s\n", value, p.Max, msg)
	}
}

func (p *ScriptedProgress) Dismiss() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Dismissed = true
}

// Abort triggers the indicator's abort affordance.
func (p *ScriptedProgress) Abort() {
	if p.onAbort != nil {
		p.onAbort()
	}
}

// Snapshot returns a copy of the recorded values and messages.
func (p *ScriptedProgress) Snapshot() (values []int, messages []string, dismissed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.Values...), append([]string(nil), p.Messages...), p.Dismissed
}

// Progress returns every progress indicator shown so far.
func (d *ScriptedDialogs) Progress() []*ScriptedProgress {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*ScriptedProgress(nil), d.progress...)
}
