// Package audio defines the capture side of the speech pipeline: the
// [Source] interface that microphone and file backends implement, the
// [AudioFrame] chunk they produce, and PCM helpers for bringing arbitrary
// device formats down to the 16 kHz mono chunks the VAD expects.
//
// Backends live in sub-packages (audio/portaudio, audio/malgo,
// audio/wavfile, audio/mock). The speech worker only sees [Source].
package audio
