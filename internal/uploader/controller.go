package uploader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"gopher-vod/internal/logger"
	"gopher-vod/internal/protocol"
)

// Config tunes a Controller. The zero value is not usable; start from
// DefaultConfig.
type Config struct {
	Mode SuccessMode
	// RedirectURL is the listing page used in Redirect mode.
	RedirectURL string
	// SettleDelay lets the user see 100% before the bar is hidden.
	SettleDelay time.Duration
	Field       string
	Marker      Marker
}

func DefaultConfig() Config {
	return Config{
		Mode:        InlineMessage,
		RedirectURL: protocol.RouteVideos,
		SettleDelay: 400 * time.Millisecond,
		Field:       protocol.FieldVideo,
		Marker:      DefaultMarker(),
	}
}

// Outcome is delivered once per attempt when it reaches a terminal state.
type Outcome struct {
	Attempt uuid.UUID
	Phase   Phase
	// Err is nil on success, a *RejectedError for a non-2xx status, or the
	// transport error.
	Err error
	// URL is the final response URL of a successful upload.
	URL string
}

// Controller drives one upload form. All element handles are used from the
// goroutine running Run only, so views need no locking.
type Controller struct {
	els       Elements
	transport Transport
	cfg       Config

	inputs  chan envelope
	submits chan submitCall
	stopped chan struct{}
	runOnce sync.Once

	// Owned by the Run goroutine.
	model   Model
	current *attempt
	ctx     context.Context
}

type envelope struct {
	attempt uuid.UUID
	input   Input
	err     error
	url     string
}

type submitCall struct {
	reply chan submitResult
}

type submitResult struct {
	done <-chan Outcome
	err  error
}

type attempt struct {
	id     uuid.UUID
	done   chan Outcome
	err    error
	url    string
	settle *time.Timer
	cancel context.CancelFunc
}

// New binds a controller to els. It does nothing until Run is called.
func New(els Elements, transport Transport, cfg Config) *Controller {
	if cfg.Mode == "" {
		cfg.Mode = InlineMessage
	}
	if cfg.Field == "" {
		cfg.Field = protocol.FieldVideo
	}
	if cfg.Marker == (Marker{}) {
		cfg.Marker = DefaultMarker()
	}
	return &Controller{
		els:       els,
		transport: transport,
		cfg:       cfg,
		inputs:    make(chan envelope),
		submits:   make(chan submitCall),
		stopped:   make(chan struct{}),
		model:     Model{Mode: cfg.Mode},
	}
}

// Enabled reports whether the controller is bound to a form.
func (c *Controller) Enabled() bool {
	return c.els.Form != nil
}

// Run processes submissions and transfer callbacks until ctx is done. With
// no form bound it returns immediately.
func (c *Controller) Run(ctx context.Context) {
	if !c.Enabled() {
		c.runOnce.Do(func() { close(c.stopped) })
		return
	}
	c.ctx = ctx
	defer c.runOnce.Do(func() { close(c.stopped) })
	defer c.abandon()

	for {
		select {
		case <-ctx.Done():
			return
		case call := <-c.submits:
			done, err := c.handleSubmit()
			call.reply <- submitResult{done: done, err: err}
		case env := <-c.inputs:
			c.handleInput(env)
		}
	}
}

// Submit starts an attempt with the currently selected file. The returned
// channel yields the attempt's Outcome and is then closed.
func (c *Controller) Submit(ctx context.Context) (<-chan Outcome, error) {
	if !c.Enabled() {
		return nil, ErrNoForm
	}
	call := submitCall{reply: make(chan submitResult, 1)}
	select {
	case c.submits <- call:
	case <-c.stopped:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	res := <-call.reply
	return res.done, res.err
}

func (c *Controller) handleSubmit() (<-chan Outcome, error) {
	if c.model.InFlight() {
		return nil, ErrInFlight
	}

	file, ok := c.els.File.Selected()
	next, effects := Reduce(c.model, Submit{HasFile: ok})
	if !ok {
		c.model = next
		c.apply(effects)
		return nil, ErrNoFile
	}

	ctx, cancel := context.WithCancel(c.ctx)
	a := &attempt{
		id:     uuid.New(),
		done:   make(chan Outcome, 1),
		cancel: cancel,
	}
	c.current = a
	c.model = next

	logger.Info().
		Str("attempt", a.id.String()).
		Str("file", file.Name()).
		Int64("size", file.Size()).
		Str("url", c.els.Form.Action()).
		Msg("upload started")

	for _, eff := range effects {
		if _, ok := eff.(StartTransfer); ok {
			go c.transfer(ctx, a.id, Request{
				Method: c.els.Form.Method(),
				URL:    c.els.Form.Action(),
				Field:  c.cfg.Field,
				File:   file,
			})
			continue
		}
		c.applyOne(eff)
	}
	return a.done, nil
}

func (c *Controller) handleInput(env envelope) {
	a := c.current
	if a == nil || env.attempt != a.id {
		return
	}
	if env.err != nil {
		a.err = env.err
	}
	if env.url != "" {
		a.url = env.url
	}

	next, effects := Reduce(c.model, env.input)
	c.model = next
	c.apply(effects)
	c.finish()
}

// finish delivers the outcome once the attempt is terminal.
func (c *Controller) finish() {
	a := c.current
	var out Outcome
	switch {
	case c.model.Phase == Failed:
		out = Outcome{Attempt: a.id, Phase: Failed, Err: a.err}
	case c.model.Phase == Succeeded && !c.model.Finishing:
		out = Outcome{Attempt: a.id, Phase: Succeeded, URL: a.url}
	default:
		return
	}

	if a.settle != nil {
		a.settle.Stop()
	}
	a.cancel()
	c.current = nil

	ev := logger.Info()
	if out.Err != nil {
		ev = logger.Warn().Err(out.Err)
	}
	ev.Str("attempt", a.id.String()).Str("phase", out.Phase.String()).Msg("upload finished")

	a.done <- out
	close(a.done)
}

// abandon releases the in-flight attempt when the loop exits.
func (c *Controller) abandon() {
	a := c.current
	if a == nil {
		return
	}
	if a.settle != nil {
		a.settle.Stop()
	}
	a.cancel()
	c.current = nil
	close(a.done)
}

func (c *Controller) apply(effects []Effect) {
	for _, eff := range effects {
		c.applyOne(eff)
	}
}

func (c *Controller) applyOne(eff Effect) {
	switch eff := eff.(type) {
	case Alert:
		c.els.Page.Alert(eff.Message)
	case RemoveMarker:
		c.els.Page.RemoveMarker()
	case ShowMarker:
		c.els.Page.ShowMarker(c.cfg.Marker)
	case ShowProgress:
		c.els.Container.Show()
	case HideProgress:
		c.els.Container.Hide()
	case SetProgress:
		c.els.Indicator.SetValue(eff.Percent)
		c.els.Label.SetText(fmt.Sprintf("%d%%", eff.Percent))
	case ClearFile:
		c.els.File.Clear()
	case Navigate:
		c.els.Page.Navigate(c.cfg.RedirectURL)
	case ScheduleSettle:
		if a := c.current; a != nil {
			id := a.id
			a.settle = time.AfterFunc(c.cfg.SettleDelay, func() {
				c.post(envelope{attempt: id, input: Settle{}})
			})
		}
	}
}

func (c *Controller) transfer(ctx context.Context, id uuid.UUID, req Request) {
	resp, err := c.transport.Send(ctx, req, func(loaded, total int64) {
		c.post(envelope{attempt: id, input: Progress{Loaded: loaded, Total: total}})
	})

	switch {
	case err != nil:
		c.post(envelope{attempt: id, input: Fail{Message: MsgNetwork}, err: err})
	case resp.OK():
		c.post(envelope{attempt: id, input: Succeed{}, url: resp.URL})
	default:
		c.post(envelope{
			attempt: id,
			input:   Fail{Message: RejectedMessage(resp.StatusText)},
			err:     &RejectedError{StatusCode: resp.StatusCode, StatusText: resp.StatusText},
		})
	}
}

func (c *Controller) post(env envelope) {
	select {
	case c.inputs <- env:
	case <-c.stopped:
	}
}
