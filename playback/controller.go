package playback

import (
	"sync"
	"time"

	"avatarchat/core"
)

// MediaSink is the buffered media surface the controller feeds: append-only
// in arrival order, with visibility into the buffered timeline. Segments
// carry independent internal clocks, so ordering comes from append sequence,
// never from embedded timestamps.
type MediaSink interface {
	Append(chunk []byte) error
	// Position is the current playback position.
	Position() time.Duration
	// BufferedAhead is how much continuous media is buffered past Position.
	BufferedAhead() time.Duration
	// NextRangeStart returns the start of the first buffered range after
	// pos, or false if none exists.
	NextRangeStart(pos time.Duration) (time.Duration, bool)
	Play() error
	Seek(pos time.Duration) error
}

// Config holds the controller's timing knobs.
type Config struct {
	ReportInterval   time.Duration // buffer_status cadence
	WatchdogInterval time.Duration // stall poll cadence
	StallThreshold   time.Duration // no position advance for this long = stall
	MinStallBuffer   time.Duration // only recover when at least this much is buffered
	MaxGapSkip       time.Duration // gaps under this are jumped, not waited out
	MicroSeekNudge   time.Duration // how far a recovery seek jumps forward
	MaxRecoveries    int           // hard cap on recovery attempts per session
}

// DefaultConfig returns the standard timing knobs.
func DefaultConfig() Config {
	return Config{
		ReportInterval:   time.Second,
		WatchdogInterval: 500 * time.Millisecond,
		StallThreshold:   time.Second,
		MinStallBuffer:   100 * time.Millisecond,
		MaxGapSkip:       500 * time.Millisecond,
		MicroSeekNudge:   10 * time.Millisecond,
		MaxRecoveries:    5,
	}
}

// Controller feeds arriving video chunks into a MediaSink, reports buffer
// depth upstream, and keeps playback moving across small gaps and decoder
// stalls.
type Controller struct {
	cfg    Config
	sink   MediaSink
	logger *core.Logger

	// onBufferStatus receives (bufferedMs, playbackPositionSeconds).
	onBufferStatus func(bufferedMs, playbackPosition float64)

	mu           sync.Mutex
	lastPosition time.Duration
	lastAdvance  time.Time
	recoveries   int

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewController creates a controller over sink. onBufferStatus may be nil.
func NewController(sink MediaSink, cfg Config, onBufferStatus func(bufferedMs, playbackPosition float64), logger *core.Logger) *Controller {
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = time.Second
	}
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = 500 * time.Millisecond
	}
	if cfg.StallThreshold <= 0 {
		cfg.StallThreshold = time.Second
	}
	if cfg.MinStallBuffer <= 0 {
		cfg.MinStallBuffer = 100 * time.Millisecond
	}
	if cfg.MaxGapSkip <= 0 {
		cfg.MaxGapSkip = 500 * time.Millisecond
	}
	if cfg.MicroSeekNudge <= 0 {
		cfg.MicroSeekNudge = 10 * time.Millisecond
	}
	if cfg.MaxRecoveries <= 0 {
		cfg.MaxRecoveries = 5
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Controller{
		cfg:            cfg,
		sink:           sink,
		logger:         logger,
		onBufferStatus: onBufferStatus,
		lastAdvance:    time.Now(),
		stopCh:         make(chan struct{}),
	}
}

// Append feeds one video chunk in arrival order.
func (c *Controller) Append(chunk []byte) error {
	return c.sink.Append(chunk)
}

// Start runs the report and watchdog loops until Stop.
func (c *Controller) Start() {
	go c.run()
}

// Stop halts monitoring. Safe to call more than once.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Controller) run() {
	report := time.NewTicker(c.cfg.ReportInterval)
	defer report.Stop()
	watchdog := time.NewTicker(c.cfg.WatchdogInterval)
	defer watchdog.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-report.C:
			c.report()
		case <-watchdog.C:
			c.checkProgress()
		}
	}
}

func (c *Controller) report() {
	if c.onBufferStatus == nil {
		return
	}
	buffered := c.sink.BufferedAhead()
	position := c.sink.Position()
	c.onBufferStatus(float64(buffered.Milliseconds()), position.Seconds())
}

// checkProgress detects stalls and gaps. A stall is a playback position
// that has not advanced for StallThreshold while enough media is buffered;
// recovery nudges the position forward, at most MaxRecoveries times per
// session. A gap smaller than MaxGapSkip is jumped immediately.
func (c *Controller) checkProgress() {
	pos := c.sink.Position()

	c.mu.Lock()
	advanced := pos != c.lastPosition
	if advanced {
		c.lastPosition = pos
		c.lastAdvance = time.Now()
	}
	stalled := !advanced && time.Since(c.lastAdvance) >= c.cfg.StallThreshold
	c.mu.Unlock()

	if advanced {
		return
	}

	// Gap skip: the position sits just before the next buffered range.
	if next, ok := c.sink.NextRangeStart(pos); ok {
		if gap := next - pos; gap > 0 && gap < c.cfg.MaxGapSkip {
			c.logger.Info("skipping buffered gap", "gap_ms", gap.Milliseconds())
			if err := c.sink.Seek(next); err != nil {
				c.logger.Warn("gap skip failed", "error", err)
			}
			return
		}
	}

	if !stalled || c.sink.BufferedAhead() < c.cfg.MinStallBuffer {
		return
	}

	c.mu.Lock()
	if c.recoveries >= c.cfg.MaxRecoveries {
		c.mu.Unlock()
		return
	}
	c.recoveries++
	attempt := c.recoveries
	c.lastAdvance = time.Now()
	c.mu.Unlock()

	c.logger.Warn("playback stalled, attempting recovery", "attempt", attempt)
	if err := c.sink.Seek(pos + c.cfg.MicroSeekNudge); err != nil {
		c.logger.Warn("recovery seek failed", "error", err)
	}
	if err := c.sink.Play(); err != nil {
		c.logger.Warn("recovery play failed", "error", err)
	}
}

// StatusDelay returns how long a status-change indicator should be held
// back so it does not appear before the avatar visibly finishes speaking:
// proportional to the media still buffered ahead of the playhead.
func (c *Controller) StatusDelay() time.Duration {
	return c.sink.BufferedAhead()
}
