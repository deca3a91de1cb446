package output

import (
	"github.com/rs/zerolog"

	"github.com/voka-studio/mediaoutput/pkg/sink"
)

// Signaler is the observer bus: every external transition an Output makes
// is reported through one of these methods so embedders (UI, metrics,
// automation) can react without polling state.
type Signaler interface {
	Starting(outputID string)
	Start(outputID string)
	Stopping(outputID string)
	Stop(outputID string, code sink.StopCode, lastError string)
	Activate(outputID string)
	Deactivate(outputID string)
	Reconnect(outputID string, timeoutSec int)
	ReconnectSuccess(outputID string)
	Pause(outputID string)
	Unpause(outputID string)
	Writing(outputID string)
	Wrote(outputID string)
	WritingError(outputID string, err error)
}

// LogSignaler is the production Signaler: every signal becomes one
// structured log line, in the same event-style zerolog shape used
// elsewhere in this module.
type LogSignaler struct {
	logger zerolog.Logger
}

// NewLogSignaler returns a Signaler that logs every emitted signal.
func NewLogSignaler(logger zerolog.Logger) *LogSignaler {
	return &LogSignaler{logger: logger.With().Str("component", "signal").Logger()}
}

func (s *LogSignaler) Starting(id string) { s.logger.Info().Str("output", id).Msg("starting") }
func (s *LogSignaler) Start(id string)    { s.logger.Info().Str("output", id).Msg("start") }
func (s *LogSignaler) Stopping(id string) { s.logger.Info().Str("output", id).Msg("stopping") }
func (s *LogSignaler) Stop(id string, code sink.StopCode, lastError string) {
	s.logger.Info().Str("output", id).Stringer("code", code).Str("last_error", lastError).Msg("stop")
}
func (s *LogSignaler) Activate(id string)   { s.logger.Info().Str("output", id).Msg("activate") }
func (s *LogSignaler) Deactivate(id string) { s.logger.Info().Str("output", id).Msg("deactivate") }
func (s *LogSignaler) Reconnect(id string, timeoutSec int) {
	s.logger.Warn().Str("output", id).Int("timeout_sec", timeoutSec).Msg("reconnect")
}
func (s *LogSignaler) ReconnectSuccess(id string) {
	s.logger.Info().Str("output", id).Msg("reconnect_success")
}
func (s *LogSignaler) Pause(id string)   { s.logger.Info().Str("output", id).Msg("pause") }
func (s *LogSignaler) Unpause(id string) { s.logger.Info().Str("output", id).Msg("unpause") }
func (s *LogSignaler) Writing(id string) { s.logger.Debug().Str("output", id).Msg("writing") }
func (s *LogSignaler) Wrote(id string)   { s.logger.Debug().Str("output", id).Msg("wrote") }
func (s *LogSignaler) WritingError(id string, err error) {
	s.logger.Error().Str("output", id).Err(err).Msg("writing_error")
}

// RecordingSignaler is a test double that captures every emitted signal in
// order, so tests can assert on the exact sequence an Output produced.
type RecordingSignaler struct {
	Events []SignalEvent
}

// SignalEvent is one recorded call to a Signaler method.
type SignalEvent struct {
	Name       string
	OutputID   string
	Code       sink.StopCode
	LastError  string
	TimeoutSec int
	Err        error
}

func (s *RecordingSignaler) Starting(id string) { s.Events = append(s.Events, SignalEvent{Name: "starting", OutputID: id}) }
func (s *RecordingSignaler) Start(id string)    { s.Events = append(s.Events, SignalEvent{Name: "start", OutputID: id}) }
func (s *RecordingSignaler) Stopping(id string) { s.Events = append(s.Events, SignalEvent{Name: "stopping", OutputID: id}) }
func (s *RecordingSignaler) Stop(id string, code sink.StopCode, lastError string) {
	s.Events = append(s.Events, SignalEvent{Name: "stop", OutputID: id, Code: code, LastError: lastError})
}
func (s *RecordingSignaler) Activate(id string) {
	s.Events = append(s.Events, SignalEvent{Name: "activate", OutputID: id})
}
func (s *RecordingSignaler) Deactivate(id string) {
	s.Events = append(s.Events, SignalEvent{Name: "deactivate", OutputID: id})
}
func (s *RecordingSignaler) Reconnect(id string, timeoutSec int) {
	s.Events = append(s.Events, SignalEvent{Name: "reconnect", OutputID: id, TimeoutSec: timeoutSec})
}
func (s *RecordingSignaler) ReconnectSuccess(id string) {
	s.Events = append(s.Events, SignalEvent{Name: "reconnect_success", OutputID: id})
}
func (s *RecordingSignaler) Pause(id string) { s.Events = append(s.Events, SignalEvent{Name: "pause", OutputID: id}) }
func (s *RecordingSignaler) Unpause(id string) {
	s.Events = append(s.Events, SignalEvent{Name: "unpause", OutputID: id})
}
func (s *RecordingSignaler) Writing(id string) { s.Events = append(s.Events, SignalEvent{Name: "writing", OutputID: id}) }
func (s *RecordingSignaler) Wrote(id string)   { s.Events = append(s.Events, SignalEvent{Name: "wrote", OutputID: id}) }
func (s *RecordingSignaler) WritingError(id string, err error) {
	s.Events = append(s.Events, SignalEvent{Name: "writing_error", OutputID: id, Err: err})
}

// Last returns the name of the most recently recorded signal, or "" if
// none have fired yet.
func (s *RecordingSignaler) Last() string {
	if len(s.Events) == 0 {
		return ""
	}
	return s.Events[len(s.Events)-1].Name
}
