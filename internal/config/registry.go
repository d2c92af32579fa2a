package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/vigil/pkg/audio"
	"github.com/MrWong99/vigil/pkg/provider/vad"
	"github.com/MrWong99/vigil/pkg/provider/vision"
)

// ErrProviderNotRegistered is returned when a config names a backend that no
// factory was registered for.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// table maps the backend names of one kind to their factories.
type table[F any] struct {
	kind   string
	mu     sync.RWMutex
	byName map[string]F
}

func newTable[F any](kind string) *table[F] {
	return &table[F]{kind: kind, byName: make(map[string]F)}
}

func (t *table[F]) set(name string, factory F) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byName[name] = factory
}

func (t *table[F]) get(name string) (F, error) {
	t.mu.RLock()
	factory, ok := t.byName[name]
	t.mu.RUnlock()
	if !ok {
		return factory, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, t.kind, name)
	}
	return factory, nil
}

func (t *table[F]) has(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.byName[name]
	return ok
}

func (t *table[F]) names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Sorted(maps.Keys(t.byName))
}

type audioFactory func(AudioConfig) (audio.Source, error)

type vadFactory func(ProviderEntry, vad.Config) (vad.Classifier, error)

type visionFactory[T any] func(ProviderEntry) (T, error)

// Registry holds the backend factories the service can build from a config,
// one table per backend kind. Registering a name again replaces its factory.
// It is safe for concurrent use.
type Registry struct {
	audio      *table[audioFactory]
	vad        *table[vadFactory]
	landmarker *table[visionFactory[vision.FaceLandmarker]]
	emotion    *table[visionFactory[vision.EmotionClassifier]]
	gender     *table[visionFactory[vision.GenderClassifier]]
	cascade    *table[visionFactory[vision.FaceCascadeDetector]]
}

// NewRegistry returns a Registry without any factories.
func NewRegistry() *Registry {
	return &Registry{
		audio:      newTable[audioFactory]("audio"),
		vad:        newTable[vadFactory]("vad"),
		landmarker: newTable[visionFactory[vision.FaceLandmarker]]("landmarker"),
		emotion:    newTable[visionFactory[vision.EmotionClassifier]]("emotion"),
		gender:     newTable[visionFactory[vision.GenderClassifier]]("gender"),
		cascade:    newTable[visionFactory[vision.FaceCascadeDetector]]("cascade"),
	}
}

func (r *Registry) RegisterAudio(name string, factory func(AudioConfig) (audio.Source, error)) {
	r.audio.set(name, factory)
}

// RegisterVAD registers a speech classifier. The factory receives the capture
// format so backends restricted to certain frame sizes can reject it early.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry, vad.Config) (vad.Classifier, error)) {
	r.vad.set(name, factory)
}

func (r *Registry) RegisterLandmarker(name string, factory func(ProviderEntry) (vision.FaceLandmarker, error)) {
	r.landmarker.set(name, factory)
}

// RegisterEmotion registers an emotion classifier. The same factory serves the
// primary emotion backend and every fallback of that name.
func (r *Registry) RegisterEmotion(name string, factory func(ProviderEntry) (vision.EmotionClassifier, error)) {
	r.emotion.set(name, factory)
}

func (r *Registry) RegisterGender(name string, factory func(ProviderEntry) (vision.GenderClassifier, error)) {
	r.gender.set(name, factory)
}

func (r *Registry) RegisterCascade(name string, factory func(ProviderEntry) (vision.FaceCascadeDetector, error)) {
	r.cascade.set(name, factory)
}

// CreateAudio builds the audio source named by cfg.Name. All Create methods
// wrap [ErrProviderNotRegistered] for unknown names and return factory errors
// unchanged.
func (r *Registry) CreateAudio(cfg AudioConfig) (audio.Source, error) {
	factory, err := r.audio.get(cfg.Name)
	if err != nil {
		return nil, err
	}
	return factory(cfg)
}

func (r *Registry) CreateVAD(entry ProviderEntry, format vad.Config) (vad.Classifier, error) {
	factory, err := r.vad.get(entry.Name)
	if err != nil {
		return nil, err
	}
	return factory(entry, format)
}

func (r *Registry) CreateLandmarker(entry ProviderEntry) (vision.FaceLandmarker, error) {
	return create(r.landmarker, entry)
}

func (r *Registry) CreateEmotion(entry ProviderEntry) (vision.EmotionClassifier, error) {
	return create(r.emotion, entry)
}

func (r *Registry) CreateGender(entry ProviderEntry) (vision.GenderClassifier, error) {
	return create(r.gender, entry)
}

func (r *Registry) CreateCascade(entry ProviderEntry) (vision.FaceCascadeDetector, error) {
	return create(r.cascade, entry)
}

func create[T any](t *table[visionFactory[T]], entry ProviderEntry) (T, error) {
	factory, err := t.get(entry.Name)
	if err != nil {
		var zero T
		return zero, err
	}
	return factory(entry)
}

// Names returns the registered backend names per kind, sorted.
func (r *Registry) Names() map[string][]string {
	return map[string][]string{
		"audio":      r.audio.names(),
		"vad":        r.vad.names(),
		"landmarker": r.landmarker.names(),
		"emotion":    r.emotion.names(),
		"gender":     r.gender.names(),
		"cascade":    r.cascade.names(),
	}
}

// Missing lists the backends cfg names that have no registered factory, as
// "kind/name" in config order. Empty names mean the backend is off and are
// never missing.
func (r *Registry) Missing(cfg *Config) []string {
	var out []string
	check := func(kind, name string, has func(string) bool) {
		if name != "" && !has(name) {
			out = append(out, kind+"/"+name)
		}
	}
	check("audio", cfg.Audio.Name, r.audio.has)
	check("vad", cfg.VAD.Name, r.vad.has)
	check("landmarker", cfg.Vision.Landmarker.Name, r.landmarker.has)
	check("emotion", cfg.Vision.Emotion.Name, r.emotion.has)
	for _, fb := range cfg.Vision.EmotionFallbacks {
		check("emotion", fb.Name, r.emotion.has)
	}
	check("gender", cfg.Vision.Gender.Name, r.gender.has)
	check("cascade", cfg.Vision.Cascade.Name, r.cascade.has)
	return out
}
