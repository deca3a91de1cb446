// Command outputctl loads a YAML output configuration, wires each entry to
// a synthetic encoder pair and a file-backed sink, and drives the Output
// state machine until interrupted. It stands in for the settings/UI layer
// and capture device a real embedder would supply (see DESIGN.md).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/voka-studio/mediaoutput/pkg/config"
	"github.com/voka-studio/mediaoutput/pkg/encoder"
	"github.com/voka-studio/mediaoutput/pkg/logger"
	"github.com/voka-studio/mediaoutput/pkg/output"
	"github.com/voka-studio/mediaoutput/pkg/packet"
	"github.com/voka-studio/mediaoutput/pkg/sink"
)

func main() {
	fs := flag.NewFlagSet("outputctl", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)
	configPath := fs.String("config", "outputs.yaml", "Path to the output settings file")
	outDir := fs.String("out-dir", ".", "Directory the demo file sink writes <output-id>.bin into")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Drives one or more media outputs from a YAML settings file.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logConfig, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error configuring logger: %v\n", err)
		os.Exit(1)
	}

	log, closer, err := logger.New(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	log.Info().Str("log_config", logFlags.String()).Msg("starting outputctl")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error().Err(err).Str("path", *configPath).Msg("failed to load configuration")
		os.Exit(1)
	}
	log.Info().Int("outputs", len(cfg.Outputs)).Msg("configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	registry := newDemoRegistry()
	signaler := output.NewLogSignaler(log)

	outputs := make([]*output.Output, 0, len(cfg.Outputs))
	for i, oc := range cfg.Outputs {
		out, err := buildOutput(oc, i, registry, signaler, *outDir, log)
		if err != nil {
			log.Error().Err(err).Str("output", oc.ID).Msg("failed to build output")
			os.Exit(1)
		}
		outputs = append(outputs, out)
	}

	for _, out := range outputs {
		if err := out.Start(); err != nil {
			log.Error().Err(err).Msg("failed to start output")
			os.Exit(1)
		}
	}
	log.Info().Msg("ready - press Ctrl+C to stop")

	statsTicker := time.NewTicker(10 * time.Second)
	defer statsTicker.Stop()

statsLoop:
	for {
		select {
		case <-ctx.Done():
			break statsLoop
		case <-statsTicker.C:
			for _, out := range outputs {
				st := out.Stats()
				log.Info().
					Str("phase", out.Phase().String()).
					Uint64("video_frames", st.TotalFrames).
					Uint64("audio_frames", st.TotalAudioFrames).
					Str("last_error", st.LastError).
					Msg("output statistics")
			}
		}
	}

	for _, out := range outputs {
		out.Stop()
	}
	log.Info().Msg("graceful shutdown complete")
}

// buildOutput wires one config.OutputConfig into an output.Output: a demo
// video/audio encoder pair registered against registry, and a file sink
// that writes <out-dir>/<id>.bin.
func buildOutput(oc config.OutputConfig, index int, registry *demoRegistry, signaler output.Signaler, outDir string, log zerolog.Logger) (*output.Output, error) {
	settings := output.Settings{
		Flags:               sink.Encoded,
		MixerMask:           oc.MixerMask,
		MultiMix:            oc.MultiMix,
		ReconnectMaxRetries: oc.Reconnect.MaxRetries,
		ReconnectBaseSec:    oc.Reconnect.BaseSec,
		ReconnectExponent:   oc.Reconnect.Exponent,
		ReconnectCapSec:     oc.Reconnect.CapSec,
		DelaySec:            oc.Delay.Seconds,
		DelayPreserve:       oc.Delay.Preserve,
	}
	if oc.CanPause {
		settings.Flags |= sink.CanPause
	}

	videoIntervalNs := int64(33 * time.Millisecond)
	if oc.FrameIntervalMs > 0 {
		videoIntervalNs = int64(oc.FrameIntervalMs * float64(time.Millisecond))
	}
	settings.FrameIntervalNs = videoIntervalNs

	if oc.HasVideo {
		settings.Flags |= sink.Video
		videoHandle := encoder.Handle(index*10 + 1)
		registry.add(videoHandle, newDemoEncoder(packet.Video, 0, videoIntervalNs))
		settings.HasVideo = true
		settings.VideoEncoder = videoHandle
	}
	if oc.HasAudio {
		settings.Flags |= sink.Audio
		audioHandle := encoder.Handle(index*10 + 2)
		registry.add(audioHandle, newDemoEncoder(packet.Audio, 0, int64(20*time.Millisecond)))
		settings.HasAudio = true
		settings.AudioEncoders = []encoder.Handle{audioHandle}
	}

	path := fmt.Sprintf("%s/%s.bin", outDir, oc.ID)
	sinkLog := log.With().Str("sink", oc.ID).Logger()
	sinkFactory := func(id string, s output.Settings) (sink.Sink, error) {
		return newFileSink(path, s.Flags, sinkLog), nil
	}

	return output.New(oc.ID, oc.Name, settings, registry, nil, sinkFactory, signaler, log)
}
