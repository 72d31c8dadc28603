// Package view declares what the reader core needs from a user interface.
//
// A frontend supplies a View (the text surface plus notifications) and a
// Dialogs implementation (modal prompts and progress indicators). All methods
// are invoked on the UI loop.
package view

import "scanreader/internal/models"

// Cue names a notification sound.
type Cue string

const (
	CueOCRStart Cue = "ocr-start"
	CueOCREnd   Cue = "ocr-end"
)

type MessageKind string

const (
	MessageInfo    MessageKind = "info"
	MessageWarning MessageKind = "warning"
	MessageError   MessageKind = "error"
)

type View interface {
	SetContent(text string)
	ContentEmpty() bool
	SetTextDirection(rtl bool)
	SetStatus(status string)
	// Announce speaks msg through the screen reader; urgent interrupts speech.
	Announce(msg string, urgent bool)
	PlaySound(cue Cue)
	// ShowMessage is modal and returns once acknowledged.
	ShowMessage(kind MessageKind, title, msg string)
	Focus()
}

// OptionsPrompt pre-populates the OCR options dialog.
type OptionsPrompt struct {
	Languages []models.Language
	Pipelines []string
	Previous  *models.OcrOptions
	ForceSave bool
}

type WaitHandle interface {
	Dismiss()
}

type ProgressHandle interface {
	Update(value int, msg string)
	Dismiss()
}

type Dialogs interface {
	// PromptOptions returns false when the user cancels.
	PromptOptions(prompt OptionsPrompt) (models.OcrOptions, bool)
	PromptSavePath(suggested string) (string, bool)
	ShowWait(msg string, onCancel func()) WaitHandle
	ShowProgress(title, msg string, max int, onAbort func()) ProgressHandle
}
