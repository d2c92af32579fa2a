package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrWong99/vigil/internal/config"
	"github.com/MrWong99/vigil/pkg/audio"
	"github.com/MrWong99/vigil/pkg/provider/vad"
	"github.com/MrWong99/vigil/pkg/provider/vision"
)

// NamedEmotion is an emotion backend together with its config name, used for
// fallback ordering and breaker names.
type NamedEmotion struct {
	Name       string
	Classifier vision.EmotionClassifier
}

// Providers holds one interface value per backend slot. Nil means the
// capability is unavailable and the detector degrades around it.
type Providers struct {
	Audio audio.Source
	VAD   vad.Classifier

	Landmarker       vision.FaceLandmarker
	Emotion          vision.EmotionClassifier
	EmotionFallbacks []NamedEmotion
	Gender           vision.GenderClassifier
	Cascade          vision.FaceCascadeDetector
}

// closers returns Close for every provider that has one, in teardown order.
func (p *Providers) closers() []func() error {
	var out []func() error
	add := func(v any) {
		if c, ok := v.(io.Closer); ok {
			out = append(out, c.Close)
		}
	}
	add(p.Audio)
	add(p.VAD)
	add(p.Landmarker)
	add(p.Emotion)
	for _, f := range p.EmotionFallbacks {
		add(f.Classifier)
	}
	add(p.Gender)
	add(p.Cascade)
	return out
}

// BuildProviders instantiates every backend named in cfg through reg.
//
// A backend that fails to build is left nil and its error is collected: the
// service starts degraded rather than not at all. The returned error joins
// every such failure and is nil when everything configured came up.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{}
	var errs []error

	note := func(kind, name string, err error) bool {
		if err != nil {
			errs = append(errs, fmt.Errorf("create %s %q: %w", kind, name, err))
			slog.Warn("backend unavailable, continuing degraded", "kind", kind, "name", name, "err", err)
			return false
		}
		slog.Info("backend created", "kind", kind, "name", name)
		return true
	}

	if name := cfg.Audio.Name; name != "" {
		src, err := reg.CreateAudio(cfg.Audio)
		if note("audio", name, err) {
			ps.Audio = src
		}
	}

	if name := cfg.VAD.Name; name != "" {
		format := audio.SourceConfig{SampleRate: cfg.Audio.SampleRate, FrameMs: cfg.Audio.FrameMs}.WithDefaults()
		cls, err := reg.CreateVAD(cfg.VAD, vad.Config{SampleRate: format.SampleRate, FrameSizeMs: format.FrameMs})
		if note("vad", name, err) {
			ps.VAD = cls
		}
	}

	v := cfg.Vision
	if name := v.Landmarker.Name; name != "" {
		lm, err := reg.CreateLandmarker(v.Landmarker)
		if note("landmarker", name, err) {
			ps.Landmarker = lm
		}
	}
	if name := v.Emotion.Name; name != "" {
		em, err := reg.CreateEmotion(v.Emotion)
		if note("emotion", name, err) {
			ps.Emotion = em
		}
	}
	for _, fb := range v.EmotionFallbacks {
		em, err := reg.CreateEmotion(fb)
		if note("emotion fallback", fb.Name, err) {
			ps.EmotionFallbacks = append(ps.EmotionFallbacks, NamedEmotion{Name: fb.Name, Classifier: em})
		}
	}
	if name := v.Gender.Name; name != "" {
		g, err := reg.CreateGender(v.Gender)
		if note("gender", name, err) {
			ps.Gender = g
		}
	}
	if name := v.Cascade.Name; name != "" {
		c, err := reg.CreateCascade(v.Cascade)
		if note("cascade", name, err) {
			ps.Cascade = c
		}
	}

	// A classifier with no source (or the reverse) cannot run.
	if (ps.Audio == nil) != (ps.VAD == nil) {
		slog.Warn("speech detection disabled: audio source and vad classifier must both be available")
	}

	return ps, errors.Join(errs...)
}
