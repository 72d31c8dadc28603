package view

import (
	"sync"
	"time"
)

type Announcement struct {
	Message string `json:"message"`
	Urgent  bool   `json:"urgent"`
}

type Message struct {
	Kind  MessageKind `json:"kind"`
	Title string      `json:"title"`
	Body  string      `json:"body"`
}

// State is a point-in-time copy of a Recorder.
type State struct {
	Content       string         `json:"content"`
	RTL           bool           `json:"rtl"`
	Status        string         `json:"status"`
	Announcements []Announcement `json:"announcements"`
	Sounds        []Cue          `json:"sounds"`
	Messages      []Message      `json:"messages"`
	Focused       int            `json:"focused"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// Recorder is an in-memory View. It keeps a bounded history of
// announcements, sounds and messages so HTTP clients can poll it.
type Recorder struct {
	mu      sync.Mutex
	state   State
	history int
}

func NewRecorder(history int) *Recorder {
	if history <= 0 {
		history = 50
	}
	return &Recorder{history: history}
}

func trim[T any](items []T, limit int) []T {
	if len(items) > limit {
		return append([]T(nil), items[len(items)-limit:]...)
	}
	return items
}

func (r *Recorder) touch() { r.state.UpdatedAt = time.Now().UTC() }

func (r *Recorder) SetContent(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Content = text
	r.touch()
}

func (r *Recorder) ContentEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Content == ""
}

func (r *Recorder) SetTextDirection(rtl bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.RTL = rtl
	r.touch()
}

func (r *Recorder) SetStatus(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Status = status
	r.touch()
}

func (r *Recorder) Announce(msg string, urgent bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Announcements = trim(append(r.state.Announcements, Announcement{Message: msg, Urgent: urgent}), r.history)
	r.touch()
}

func (r *Recorder) PlaySound(cue Cue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Sounds = trim(append(r.state.Sounds, cue), r.history)
	r.touch()
}

func (r *Recorder) ShowMessage(kind MessageKind, title, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Messages = trim(append(r.state.Messages, Message{Kind: kind, Title: title, Body: msg}), r.history)
	r.touch()
}

func (r *Recorder) Focus() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Focused++
}

func (r *Recorder) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.state
	s.Announcements = append([]Announcement(nil), s.Announcements...)
	s.Sounds = append([]Cue(nil), s.Sounds...)
	s.Messages = append([]Message(nil), s.Messages...)
	return s
}

// LastAnnouncement returns the most recent announcement, if any.
func (r *Recorder) LastAnnouncement() (Announcement, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.state.Announcements) == 0 {
		return Announcement{}, false
	}
	return r.state.Announcements[len(r.state.Announcements)-1], true
}
