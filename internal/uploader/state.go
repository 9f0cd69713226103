package uploader

import (
	"fmt"
	"math"
)

// Phase is the lifecycle position of the current upload attempt.
type Phase int

const (
	Idle Phase = iota
	Submitting
	Progressing
	Succeeded
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Submitting:
		return "submitting"
	case Progressing:
		return "progressing"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// SuccessMode selects what a 2xx response does to the page.
type SuccessMode string

const (
	// InlineMessage hides the progress bar and shows the success marker.
	InlineMessage SuccessMode = "inline-message"
	// Redirect navigates to the listing page.
	Redirect SuccessMode = "redirect"
)

// Model is everything the reducer knows about the page.
type Model struct {
	Mode            SuccessMode
	Phase           Phase
	Percent         int
	ProgressVisible bool
	MarkerShown     bool
	// Finishing is set while the completion sequence waits for its delay.
	Finishing bool
	// Completed is set once the completion sequence ran for this attempt.
	Completed bool
}

// InFlight reports whether an attempt has not yet reached a terminal state.
func (m Model) InFlight() bool {
	return m.Phase == Submitting || m.Phase == Progressing || m.Finishing
}

// Input is a transition input for Reduce.
type Input interface{ input() }

type (
	Submit   struct{ HasFile bool }
	Progress struct{ Loaded, Total int64 }
	Succeed  struct{}
	Fail     struct{ Message string }
	// Settle fires once the completion delay elapsed.
	Settle struct{}
)

func (Submit) input()   {}
func (Progress) input() {}
func (Succeed) input()  {}
func (Fail) input()     {}
func (Settle) input()   {}

// Effect is a side effect the controller applies to its elements.
type Effect interface{ effect() }

type (
	Alert          struct{ Message string }
	RemoveMarker   struct{}
	ShowProgress   struct{}
	HideProgress   struct{}
	SetProgress    struct{ Percent int }
	StartTransfer  struct{}
	ScheduleSettle struct{}
	ShowMarker     struct{}
	ClearFile      struct{}
	Navigate       struct{}
)

func (Alert) effect()          {}
func (RemoveMarker) effect()   {}
func (ShowProgress) effect()   {}
func (HideProgress) effect()   {}
func (SetProgress) effect()    {}
func (StartTransfer) effect()  {}
func (ScheduleSettle) effect() {}
func (ShowMarker) effect()     {}
func (ClearFile) effect()      {}
func (Navigate) effect()       {}

// Percent converts a byte count into a whole percentage in [0, 100].
func Percent(loaded, total int64) int {
	if total <= 0 {
		return 0
	}
	p := int(math.Round(float64(loaded) / float64(total) * 100))
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// Reduce computes the next model and the effects that take the page there.
// It never touches the page itself.
func Reduce(m Model, in Input) (Model, []Effect) {
	switch in := in.(type) {
	case Submit:
		return reduceSubmit(m, in)
	case Progress:
		return reduceProgress(m, in)
	case Succeed:
		return reduceSucceed(m)
	case Fail:
		return reduceFail(m, in)
	case Settle:
		return reduceSettle(m)
	}
	return m, nil
}

func reduceSubmit(m Model, in Submit) (Model, []Effect) {
	if m.InFlight() {
		return m, nil
	}
	if !in.HasFile {
		return m, []Effect{Alert{Message: MsgNoFile}}
	}

	m.Phase = Submitting
	m.Percent = 0
	m.ProgressVisible = true
	m.MarkerShown = false
	m.Finishing = false
	m.Completed = false
	return m, []Effect{
		RemoveMarker{},
		SetProgress{Percent: 0},
		ShowProgress{},
		StartTransfer{},
	}
}

func reduceProgress(m Model, in Progress) (Model, []Effect) {
	if m.Phase != Submitting && m.Phase != Progressing {
		return m, nil
	}
	// Unknown totals carry no displayable progress.
	if in.Total <= 0 || m.Completed {
		return m, nil
	}

	pct := Percent(in.Loaded, in.Total)
	m.Phase = Progressing
	m.Percent = pct
	m.ProgressVisible = true
	effects := []Effect{ShowProgress{}, SetProgress{Percent: pct}}

	if m.Mode != Redirect && pct >= 100 && !m.Finishing {
		m.Finishing = true
		effects = append(effects, ScheduleSettle{})
	}
	return m, effects
}

func reduceSucceed(m Model) (Model, []Effect) {
	if m.Phase != Submitting && m.Phase != Progressing {
		return m, nil
	}
	m.Phase = Succeeded

	if m.Mode == Redirect {
		return m, []Effect{Navigate{}}
	}
	if m.Completed || m.Finishing {
		return m, nil
	}

	var effects []Effect
	if m.Percent < 100 {
		m.Percent = 100
		effects = append(effects, SetProgress{Percent: 100})
	}
	m.Finishing = true
	return m, append(effects, ScheduleSettle{})
}

func reduceFail(m Model, in Fail) (Model, []Effect) {
	if m.Phase != Submitting && m.Phase != Progressing {
		return m, nil
	}
	m.Phase = Failed
	m.Finishing = false
	m.ProgressVisible = false

	effects := []Effect{Alert{Message: in.Message}, HideProgress{}}
	if m.MarkerShown {
		m.MarkerShown = false
		effects = append(effects, RemoveMarker{})
	}
	return m, effects
}

func reduceSettle(m Model) (Model, []Effect) {
	if !m.Finishing {
		return m, nil
	}
	m.Finishing = false
	m.Completed = true
	m.ProgressVisible = false
	m.MarkerShown = true
	return m, []Effect{
		HideProgress{},
		RemoveMarker{},
		ShowMarker{},
		ClearFile{},
	}
}
