package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/uva-nepa/nepa/internal/beacon"
	"github.com/uva-nepa/nepa/internal/fingerprint"
	"github.com/uva-nepa/nepa/internal/task"
	"github.com/uva-nepa/nepa/internal/timeutil"
)

const (
	DefaultWindowWidth    = time.Second
	DefaultWindowCount    = 180
	DefaultSampleDuration = 3 * time.Second

	// MaxWindowCount and MaxSessionLength bound what a request may ask
	// for. Fingerprints for every window are allocated up front.
	MaxWindowCount   = 86_400
	MaxSessionLength = 24 * time.Hour
)

// State is the controller's position in Idle -> Scanning -> Uploading -> Idle.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateUploading
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateUploading:
		return "uploading"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Mode selects how a recording becomes fingerprints.
type Mode int

const (
	// ModeWindowed cuts the recording into fixed-width windows.
	ModeWindowed Mode = iota
	// ModeSingle turns the whole recording into one fingerprint.
	ModeSingle
)

func (m Mode) String() string {
	if m == ModeSingle {
		return "single"
	}
	return "windowed"
}

// ParseMode accepts the names Mode.String produces. An empty name is
// ModeWindowed.
func ParseMode(name string) (Mode, error) {
	switch name {
	case "", "windowed":
		return ModeWindowed, nil
	case "single":
		return ModeSingle, nil
	default:
		return ModeWindowed, &ValidationError{Field: "mode", Reason: fmt.Sprintf("must be windowed or single, got %q", name)}
	}
}

// Request describes the session to start. Zero durations and counts take
// the package defaults.
type Request struct {
	Location string
	Section  string
	Mode     Mode
	Width    time.Duration
	Count    int
	// Duration applies to ModeSingle only. Windowed sessions last
	// Width*Count.
	Duration time.Duration
}

func (r Request) withDefaults() Request {
	if r.Width <= 0 {
		r.Width = DefaultWindowWidth
	}
	if r.Count <= 0 {
		r.Count = DefaultWindowCount
	}
	if r.Duration <= 0 {
		r.Duration = DefaultSampleDuration
	}
	return r
}

func (r Request) length() time.Duration {
	if r.Mode == ModeSingle {
		return r.Duration
	}
	return r.Width * time.Duration(r.Count)
}

// Validate checks that the request can label its fingerprints and that its
// timing is in bounds.
func (r Request) Validate() error {
	if r.Location == "" {
		return &ValidationError{Field: "location"}
	}
	if r.Section == "" {
		return &ValidationError{Field: "section"}
	}
	return r.ValidateTiming()
}

// ValidateTiming checks Width, Count and Duration. Unset values are
// checked as their defaults.
func (r Request) ValidateTiming() error {
	r = r.withDefaults()
	if r.Count > MaxWindowCount {
		return &ValidationError{Field: "count", Reason: fmt.Sprintf("must be at most %d, got %d", MaxWindowCount, r.Count)}
	}
	// Count is bounded above, so the division cannot hide an overflow.
	if r.Width > MaxSessionLength/time.Duration(r.Count) {
		return &ValidationError{Field: "width", Reason: fmt.Sprintf("times count %d must be at most %s, got %s", r.Count, MaxSessionLength, r.Width)}
	}
	if r.Duration > MaxSessionLength {
		return &ValidationError{Field: "duration", Reason: fmt.Sprintf("must be at most %s, got %s", MaxSessionLength, r.Duration)}
	}
	return nil
}

// ValidationError reports a missing or malformed request field. The
// controller stays Idle when it is returned.
type ValidationError struct {
	Field string
	// Reason defaults to "is required".
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return e.Field + " " + e.Reason
	}
	return e.Field + " is required"
}

// Uploader sends finished fingerprints. Uploads report success and are not
// retried.
type Uploader interface {
	PostFingerprint(ctx context.Context, f fingerprint.Fingerprint) bool
	PostFingerprints(ctx context.Context, fps []fingerprint.Fingerprint) bool
}

// Journal records finished sessions locally.
type Journal interface {
	RecordSession(ctx context.Context, r Result) error
}

// Result summarises a session once its upload has settled.
type Result struct {
	ID           string
	Mode         Mode
	Location     string
	Section      string
	StartedAt    time.Time
	EndedAt      time.Time
	Interrupted  bool
	Packets      int
	Dropped      int64
	Fingerprints []fingerprint.Fingerprint
	Uploaded     bool
	// Skipped is set when there was nothing worth uploading.
	Skipped bool
}

// Action reports what a start request did.
type Action int

const (
	ActionStarted Action = iota
	ActionInterrupted
	ActionIgnored
)

func (a Action) String() string {
	switch a {
	case ActionStarted:
		return "started"
	case ActionInterrupted:
		return "interrupted"
	default:
		return "ignored"
	}
}

type EventKind int

const (
	EventStarted EventKind = iota
	EventTick
	EventCollected
	EventFinished
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventTick:
		return "tick"
	case EventCollected:
		return "collected"
	case EventFinished:
		return "finished"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is published to subscribers as a session progresses. Result is set
// on EventCollected (without Uploaded) and EventFinished.
type Event struct {
	Kind      EventKind
	SessionID string
	State     State
	Remaining time.Duration
	Result    *Result
}

type Config struct {
	Source   beacon.Source
	Uploader Uploader
	Clock    timeutil.Clock
	// Journal is optional.
	Journal   Journal
	QueueSize int
	// Continuous starts a new single-shot session after each one that ends
	// on its own timer.
	Continuous bool
}

// Controller owns at most one scanning session at a time.
type Controller struct {
	cfg   Config
	clock timeutil.Clock

	mu      sync.Mutex
	state   State
	current *scan
	last    *Result
	closed  bool

	runs    sync.WaitGroup
	uploads task.Group

	subMu sync.Mutex
	subs  map[string]chan Event
}

type scan struct {
	id        string
	req       Request
	startedAt time.Time
	buf       *beacon.Buffer
	capture   *Capture
	timer     timeutil.Timer
	countdown *timeutil.Countdown
	cancel    *Composite

	interrupt     chan struct{}
	stopInterrupt Cancellable
	collected     chan struct{}
}

func NewController(cfg Config) *Controller {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Controller{
		cfg:   cfg,
		clock: clock,
		subs:  make(map[string]chan Event),
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Last returns the most recently finished session, if any.
func (c *Controller) Last() (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return Result{}, false
	}
	return *c.last, true
}

// Toggle is the single start/stop control: it starts a session when Idle,
// interrupts the running one when Scanning and does nothing while
// Uploading.
func (c *Controller) Toggle(req Request) (Action, error) {
	c.mu.Lock()
	switch {
	case c.closed || c.state == StateUploading:
		c.mu.Unlock()
		return ActionIgnored, nil
	case c.state == StateScanning:
		s := c.current
		c.mu.Unlock()
		s.interruptAndWait()
		return ActionInterrupted, nil
	}
	defer c.mu.Unlock()

	req = req.withDefaults()
	if err := req.Validate(); err != nil {
		return ActionIgnored, err
	}
	if err := c.beginLocked(req); err != nil {
		return ActionIgnored, err
	}
	return ActionStarted, nil
}

// Start is Toggle under another name, kept for callers that only ever
// start sessions.
func (c *Controller) Start(req Request) (Action, error) {
	return c.Toggle(req)
}

// Interrupt ends the running session early. Its partial recording is still
// turned into fingerprints and uploaded. It returns false when no session
// is scanning.
func (c *Controller) Interrupt() bool {
	c.mu.Lock()
	if c.state != StateScanning {
		c.mu.Unlock()
		return false
	}
	s := c.current
	c.mu.Unlock()
	s.interruptAndWait()
	return true
}

func (c *Controller) beginLocked(req Request) error {
	buf := beacon.NewBuffer()
	capture, err := StartCapture(c.cfg.Source, buf, c.clock, c.cfg.QueueSize)
	if err != nil {
		return err
	}

	s := &scan{
		id:        uuid.NewString(),
		req:       req,
		startedAt: capture.Stats().StartedAt,
		buf:       buf,
		capture:   capture,
		timer:     c.clock.NewTimer(req.length()),
		countdown: timeutil.StartCountdown(c.clock, req.length(), time.Second),
		interrupt: make(chan struct{}),
		collected: make(chan struct{}),
	}
	s.stopInterrupt = OnCancel(func() { close(s.interrupt) })
	s.cancel = NewComposite(
		capture,
		s.countdown,
		OnCancel(func() { s.timer.Stop() }),
		s.stopInterrupt,
	)

	c.state = StateScanning
	c.current = s
	logf("session %s started: %s %s/%s for %s", s.id, req.Mode, req.Location, req.Section, req.length())
	c.emit(Event{Kind: EventStarted, SessionID: s.id, State: StateScanning, Remaining: req.length()})

	c.runs.Add(1)
	go c.run(s)
	return nil
}

func (s *scan) interruptAndWait() {
	s.stopInterrupt.Cancel()
	<-s.collected
}

func (c *Controller) run(s *scan) {
	defer c.runs.Done()

	interrupted := false
	ticks := s.countdown.Ticks()
loop:
	for {
		select {
		case remaining, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			c.emit(Event{Kind: EventTick, SessionID: s.id, State: StateScanning, Remaining: remaining})
		case <-s.timer.C():
			break loop
		case <-s.interrupt:
			interrupted = true
			break loop
		}
	}

	end := c.clock.Now()
	s.cancel.Cancel()
	packets, late := splitAt(s.buf.Drain(), end)
	stats := s.capture.Stats()
	stats.Dropped += int64(late)

	res := Result{
		ID:          s.id,
		Mode:        s.req.Mode,
		Location:    s.req.Location,
		Section:     s.req.Section,
		StartedAt:   s.startedAt,
		EndedAt:     end,
		Interrupted: interrupted,
		Packets:     len(packets),
		Dropped:     stats.Dropped,
	}
	res.Fingerprints = buildFingerprints(s.req, packets, s.startedAt, end)
	res.Skipped = len(res.Fingerprints) == 0

	c.mu.Lock()
	c.state = StateUploading
	c.mu.Unlock()
	close(s.collected)

	collected := res
	c.emit(Event{Kind: EventCollected, SessionID: s.id, State: StateUploading, Result: &collected})
	logf("session %s collected %s packets into %d fingerprints (interrupted=%t, dropped=%d)",
		s.id, humanize.Comma(int64(res.Packets)), len(res.Fingerprints), interrupted, stats.Dropped)

	task.Track(&c.uploads, func() Result {
		res.Uploaded = c.upload(res)
		c.finish(s.req, res)
		return res
	})
}

// splitAt keeps the packets received before end. Packets that raced the
// cancel are discarded and counted.
func splitAt(packets []beacon.Packet, end time.Time) ([]beacon.Packet, int) {
	kept := packets[:0]
	for _, p := range packets {
		if p.ReceivedAt.Before(end) {
			kept = append(kept, p)
		}
	}
	return kept, len(packets) - len(kept)
}

func buildFingerprints(req Request, packets []beacon.Packet, start, end time.Time) []fingerprint.Fingerprint {
	if req.Mode == ModeSingle {
		f := fingerprint.Single(packets, start, end, req.Location, req.Section)
		if f.Empty() {
			return nil
		}
		return []fingerprint.Fingerprint{f}
	}
	return fingerprint.Build(packets, start, end, fingerprint.Layout{
		Location: req.Location,
		Section:  req.Section,
		Width:    req.Width,
		Count:    req.Count,
	})
}

func (c *Controller) upload(res Result) bool {
	if res.Skipped || c.cfg.Uploader == nil {
		return false
	}
	ctx := context.Background()
	if res.Mode == ModeSingle {
		return c.cfg.Uploader.PostFingerprint(ctx, res.Fingerprints[0])
	}
	return c.cfg.Uploader.PostFingerprints(ctx, res.Fingerprints)
}

func (c *Controller) finish(req Request, res Result) {
	if c.cfg.Journal != nil {
		if err := c.cfg.Journal.RecordSession(context.Background(), res); err != nil {
			logf("session %s: failed to record: %v", res.ID, err)
		}
	}

	c.mu.Lock()
	c.state = StateIdle
	c.current = nil
	c.last = &res
	restart := c.cfg.Continuous && res.Mode == ModeSingle && !res.Interrupted && !c.closed
	c.mu.Unlock()

	c.emit(Event{Kind: EventFinished, SessionID: res.ID, State: StateIdle, Result: &res})

	if restart {
		if _, err := c.Toggle(req); err != nil {
			logf("continuous sampling stopped: %v", err)
		}
	}
}

// Subscribe registers a listener for session events. Events are dropped
// for listeners that fall behind.
func (c *Controller) Subscribe() (string, <-chan Event) {
	id := uuid.NewString()
	ch := make(chan Event, 16)
	c.subMu.Lock()
	c.subs[id] = ch
	c.subMu.Unlock()
	return id, ch
}

func (c *Controller) Unsubscribe(id string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if ch, ok := c.subs[id]; ok {
		close(ch)
		delete(c.subs, id)
	}
}

func (c *Controller) emit(ev Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close interrupts any running session, waits for pending uploads and
// stops continuous sampling.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	var s *scan
	if c.state == StateScanning {
		s = c.current
	}
	c.mu.Unlock()

	if s != nil {
		s.interruptAndWait()
	}
	c.Wait()
}

// Wait blocks until every started session has finished uploading.
func (c *Controller) Wait() {
	c.runs.Wait()
	c.uploads.Wait()
}
