package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/vigil/internal/config"
	"github.com/MrWong99/vigil/internal/speech"
	"github.com/MrWong99/vigil/pkg/audio"
	"github.com/MrWong99/vigil/pkg/audio/wavfile"
	"github.com/MrWong99/vigil/pkg/provider/vad"
)

func (c *cli) replayCmd() *cobra.Command {
	var (
		wavPath string
		vadName string
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Run a WAV file through the VAD and speech window and print the speech timeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entry := c.cfg.VAD
			if vadName != "" {
				entry = config.ProviderEntry{Name: vadName}
			}
			if entry.Name == "" {
				entry.Name = "energy"
			}
			return replay(cmd.Context(), cmd.OutOrStdout(), c.cfg, entry, wavPath)
		},
	}
	cmd.Flags().StringVarP(&wavPath, "wav", "w", "", "WAV file to replay")
	cmd.Flags().StringVar(&vadName, "vad", "", "override the configured VAD backend")
	_ = cmd.MarkFlagRequired("wav")
	return cmd
}

// replayStats summarises one replay.
type replayStats struct {
	Chunks       int
	SpeechChunks int
	Detections   int
	Speech       time.Duration
}

func replay(ctx context.Context, w io.Writer, cfg *config.Config, entry config.ProviderEntry, wavPath string) error {
	format := audio.SourceConfig{SampleRate: cfg.Audio.SampleRate, FrameMs: cfg.Audio.FrameMs}.WithDefaults()

	reg := config.NewRegistry()
	res := newResources()
	defer res.Close()
	registerBuiltinProviders(reg, res)

	cls, err := reg.CreateVAD(entry, vad.Config{SampleRate: format.SampleRate, FrameSizeMs: format.FrameMs})
	if err != nil {
		return fmt.Errorf("create vad %q: %w", entry.Name, err)
	}
	defer cls.Close()

	src, err := wavfile.Open(wavPath, format, wavfile.WithRealtime(false))
	if err != nil {
		return err
	}
	defer src.Close()

	cal := cfg.Calibration.Resolve()
	fmt.Fprintf(w, "# %s: %d chunks of %d ms, vad=%s, window=%d, threshold=%.2f\n",
		wavPath, src.Len(), format.FrameMs, entry.Name, cal.SpeechWindow, cal.SpeechThreshold)

	stats, err := replayTimeline(ctx, w, src, cls, cal.SpeechWindow, cal.SpeechThreshold)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "# chunks=%d speech_chunks=%d detections=%d speech_time=%s\n",
		stats.Chunks, stats.SpeechChunks, stats.Detections, stats.Speech.Round(time.Millisecond))
	return nil
}

// replayTimeline classifies every chunk of src and prints a line whenever the
// smoothed speech state flips.
func replayTimeline(ctx context.Context, w io.Writer, src audio.Source, cls vad.Classifier, window int, threshold float64) (replayStats, error) {
	var (
		stats    replayStats
		win      = speech.NewWindow(window)
		speaking bool
		at       time.Duration
	)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		frame, err := src.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("read chunk %d: %w", stats.Chunks, err)
		}
		isSpeech, err := cls.IsSpeech(frame.Data, frame.SampleRate)
		if err != nil {
			return stats, fmt.Errorf("classify chunk %d: %w", stats.Chunks, err)
		}
		stats.Chunks++
		if isSpeech {
			stats.SpeechChunks++
		}

		ratio := win.Push(isSpeech)
		detected := ratio > threshold
		if detected {
			stats.Detections++
			stats.Speech += frame.Duration()
		}
		if detected != speaking {
			speaking = detected
			state := "speech end"
			if detected {
				state = "speech start"
			}
			fmt.Fprintf(w, "%9.2fs  %-12s  confidence=%.2f\n", at.Seconds(), state, ratio)
		}
		at += frame.Duration()
	}
	if speaking {
		fmt.Fprintf(w, "%9.2fs  %-12s  (end of input)\n", at.Seconds(), "speech end")
	}
	return stats, nil
}
