// Package detector fuses per-frame vision analysis and the background speech
// state into one [Snapshot] per tick.
//
// A [Detector] owns every piece of rolling state: the frame mailbox, eye
// movement tracking, mood smoothing, lip-sync, identity verification and the
// interview session. Ticks, session control and reference capture are
// serialised by a single lock; frames arrive through the mailbox and speech
// through a latest-value channel, so neither producer ever waits on a tick.
//
// Within a tick the landmark, cascade and gender analyzers run in parallel.
// Each yields a [Result]; a failed analyzer leaves the fields it feeds at
// their last-known values instead of failing the tick.
package detector

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vigil/internal/observe"
	"github.com/MrWong99/vigil/internal/speech"
	"github.com/MrWong99/vigil/pkg/provider/vision"
)

// Analyzers bundles the vision backends a detector uses. Any field may be
// nil: a missing landmarker means no faces, a missing gender classifier means
// "Unknown", a missing emotion classifier freezes the mood and a missing
// cascade detector disables identity verification.
type Analyzers struct {
	Landmarker vision.FaceLandmarker
	Emotion    vision.EmotionClassifier
	Gender     vision.GenderClassifier
	Cascade    vision.FaceCascadeDetector
}

// Option configures a [Detector].
type Option func(*Detector)

// WithCalibration sets the initial calibration.
func WithCalibration(c Calibration) Option {
	return func(d *Detector) { d.cal = c }
}

// WithSpeech connects the speech worker's latest-value channel.
func WithSpeech(updates <-chan speech.State) Option {
	return func(d *Detector) { d.speechCh = updates }
}

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Detector) { d.metrics = m }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// WithAnalyzerTimeout bounds each tick's analyzer calls. Zero disables the
// bound.
func WithAnalyzerTimeout(t time.Duration) Option {
	return func(d *Detector) { d.timeout = t }
}

// Detector is the detection context. Create one with [New] at startup.
type Detector struct {
	analyzers Analyzers
	mailbox   Mailbox
	metrics   *observe.Metrics
	now       func() time.Time
	timeout   time.Duration
	speechCh  <-chan speech.State

	// mu is the tick lock; everything below is guarded by it.
	mu       sync.Mutex
	cal      Calibration
	speech   speech.State
	eye      EyeTracker
	mood     *MoodSmoother
	identity IdentityVerifier
	session  sessionMachine
	lipsync  LipSync
	faces    int
	alert    string
	gender   string
}

// New creates a detector over the given analyzers.
func New(a Analyzers, opts ...Option) *Detector {
	d := &Detector{
		analyzers: a,
		cal:       DefaultCalibration(),
		now:       time.Now,
		mood:      NewMoodSmoother(),
		gender:    UnknownGender,
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// PutFrame stores img as the current frame. It never blocks on a tick.
func (d *Detector) PutFrame(ctx context.Context, img image.Image) {
	dropped := d.mailbox.Put(img, d.now())
	d.metrics.RecordFrame(ctx, dropped)
}

// FrameDrops returns the number of frames replaced before being processed.
func (d *Detector) FrameDrops() uint64 { return d.mailbox.Drops() }

// Calibration returns the active calibration.
func (d *Detector) Calibration() Calibration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cal
}

// SetCalibration replaces the calibration from the next tick on.
func (d *Detector) SetCalibration(c Calibration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cal = c
}

// Active reports whether an interview session is running.
func (d *Detector) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session.state == SessionActive
}

// Session returns the running session, or the zero Session when idle.
func (d *Detector) Session() Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session.current
}

// Tick processes the current frame and returns the resulting snapshot. Without
// any frame it returns the waiting-for-feed snapshot.
func (d *Detector) Tick(ctx context.Context) Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	ctx, span := observe.StartTick(ctx)
	defer span.End()

	d.drainSpeech()
	frame, ok := d.mailbox.Take()
	observe.TickFrame(span, frame.Seq, ok)
	if !ok {
		d.metrics.RecordSnapshot(ctx, "tick")
		return d.assemble(false)
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	cal := d.cal
	img := frame.Image
	lm, boxes, genders := d.analyze(ctx, img)

	d.applyFaces(lm, cal)
	d.applyLipSync(lm, img.Bounds().Dy(), cal)
	d.identity.Observe(img, boxes, cal)
	d.applyGender(genders, cal)
	d.applyMood(ctx, img, lm, cal)

	snap := d.assemble(true)
	d.metrics.TickDuration.Record(ctx, time.Since(start).Seconds())
	d.metrics.RecordSnapshot(ctx, "tick")
	return snap
}

// Snapshot returns the current state without processing a frame.
func (d *Detector) Snapshot(ctx context.Context) Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drainSpeech()
	d.metrics.RecordSnapshot(ctx, "stats")
	return d.assemble(true)
}

// analyze runs the per-frame analyzers in parallel.
func (d *Detector) analyze(ctx context.Context, img image.Image) (
	lm Result[vision.FaceLandmarks],
	boxes Result[[]image.Rectangle],
	genders Result[[]vision.GenderDetection],
) {
	lm, boxes, genders = skipped[vision.FaceLandmarks](), skipped[[]image.Rectangle](), skipped[[]vision.GenderDetection]()

	var g errgroup.Group
	if a := d.analyzers.Landmarker; a != nil {
		g.Go(func() error {
			lm = call(ctx, d.metrics, "landmarks", func(ctx context.Context) (vision.FaceLandmarks, error) {
				return a.Detect(ctx, img)
			})
			return nil
		})
	}
	if a := d.analyzers.Cascade; a != nil {
		g.Go(func() error {
			boxes = call(ctx, d.metrics, "cascade", func(ctx context.Context) ([]image.Rectangle, error) {
				return a.Detect(ctx, img)
			})
			return nil
		})
	}
	if a := d.analyzers.Gender; a != nil {
		g.Go(func() error {
			genders = call(ctx, d.metrics, "gender", func(ctx context.Context) ([]vision.GenderDetection, error) {
				return a.Detect(ctx, img)
			})
			return nil
		})
	}
	_ = g.Wait()
	return lm, boxes, genders
}

// call runs one analyzer under its own span and records its latency.
func call[T any](ctx context.Context, m *observe.Metrics, name string, fn func(context.Context) (T, error)) Result[T] {
	ctx, span := observe.StartAnalyzer(ctx, name)
	defer span.End()

	start := time.Now()
	v, err := fn(ctx)
	m.RecordAnalyzer(ctx, name, time.Since(start).Seconds(), err)
	if err != nil {
		observe.Fail(span, err)
		observe.Logger(ctx).Warn("analyzer failed", "analyzer", name, "err", err)
		return failed[T](err)
	}
	return succeeded(v)
}

func (d *Detector) applyFaces(lm Result[vision.FaceLandmarks], cal Calibration) {
	switch {
	case lm.Err != nil:
		return
	case lm.Skipped:
		d.faces = 0
		d.alert = d.eye.Observe(0, nil, cal)
	default:
		d.faces = lm.Value.FaceCount
		d.alert = d.eye.Observe(lm.Value.FaceCount, lm.Value.Faces, cal)
	}
	d.session.noteAlert(d.alert)
}

func (d *Detector) applyLipSync(lm Result[vision.FaceLandmarks], imgHeight int, cal Calibration) {
	if lm.Err != nil {
		return
	}
	var face *vision.Face
	if lm.OK() && len(lm.Value.Faces) > 0 {
		face = &lm.Value.Faces[0]
	}
	d.lipsync = DecideLipSync(face, imgHeight, d.speech.Detected, cal)
}

func (d *Detector) applyGender(genders Result[[]vision.GenderDetection], cal Calibration) {
	if d.analyzers.Gender == nil {
		d.gender = UnknownGender
		return
	}
	if !genders.OK() {
		return
	}
	if label, ok := PickGender(genders.Value, cal.GenderMinConfidence); ok {
		d.gender = label
	}
}

func (d *Detector) applyMood(ctx context.Context, img image.Image, lm Result[vision.FaceLandmarks], cal Calibration) {
	if !d.mood.Due(cal) {
		return
	}
	if d.analyzers.Emotion == nil || !lm.OK() || len(lm.Value.Faces) == 0 {
		return
	}
	r, ok := MoodCrop(img.Bounds(), lm.Value.Faces[0], cal.MoodCropPadding, cal.MoodMinCrop)
	if !ok {
		return
	}
	crop, ok := vision.Crop(img, r)
	if !ok {
		return
	}
	emo := d.analyzers.Emotion
	scores := call(ctx, d.metrics, "emotion", func(ctx context.Context) (vision.EmotionScores, error) {
		return emo.Analyze(ctx, crop)
	})
	if !scores.OK() {
		return
	}
	prev := d.mood.Current()
	if d.mood.Observe(scores.Value, cal) {
		observe.Logger(ctx).Info("mood changed", "from", prev, "to", d.mood.Current())
	}
}

// drainSpeech takes the latest published speech state, if any, without
// blocking.
func (d *Detector) drainSpeech() {
	if d.speechCh == nil {
		return
	}
	select {
	case s := <-d.speechCh:
		d.speech = s
	default:
	}
}

// Start begins a new interview session. The movement count, face alert and
// summary trackers reset; mood, reference face and verification status carry
// over.
func (d *Detector) Start(ctx context.Context) Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drainSpeech()
	d.eye.ResetMovements()
	d.alert = ""
	s := d.session.start(d.now(), d.speech.Detections)
	d.metrics.RecordSessionTransition(ctx, SessionActive.String())
	slog.Info("interview session started", "session_id", s.ID, "room_id", s.RoomID)
	return s
}

// Stop ends the session, clears the face count, alert and current frame, and
// returns the session summary.
func (d *Detector) Stop(ctx context.Context) Summary {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drainSpeech()
	sum := Summary{
		TotalEyeMovements:  d.eye.Movements(),
		FinalMood:          d.mood.Current(),
		FaceAlertsDetected: d.session.alertFired,
		SpeechDetected:     d.session.speechSince(d.speech.Detections),
	}
	s := d.session.stop()
	d.faces = 0
	d.alert = ""
	d.mailbox.Clear()
	d.metrics.RecordSessionTransition(ctx, SessionIdle.String())
	slog.Info("interview session stopped",
		"session_id", s.ID,
		"eye_movements", sum.TotalEyeMovements,
		"final_mood", sum.FinalMood,
		"face_alerts", sum.FaceAlertsDetected,
		"speech", sum.SpeechDetected,
	)
	return sum
}

// CaptureReference stores the first face of the current frame as the identity
// reference. It returns [ErrNoFrame] or [ErrNoFace] when the precondition is
// not met; the verification status is unchanged on any error.
func (d *Detector) CaptureReference(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	frame, ok := d.mailbox.Take()
	if !ok {
		return ErrNoFrame
	}
	if d.analyzers.Cascade == nil {
		return fmt.Errorf("%w: no face detector configured", ErrNoFace)
	}
	cascade := d.analyzers.Cascade
	boxes := call(ctx, d.metrics, "cascade", func(ctx context.Context) ([]image.Rectangle, error) {
		return cascade.Detect(ctx, frame.Image)
	})
	if boxes.Err != nil {
		return fmt.Errorf("detector: capture reference: %w", boxes.Err)
	}
	if len(boxes.Value) == 0 {
		return ErrNoFace
	}
	crop, ok := vision.Crop(frame.Image, boxes.Value[0])
	if !ok {
		return ErrNoFace
	}
	d.identity.SetReference(crop)
	slog.Info("reference face captured", "box", boxes.Value[0].String())
	return nil
}
