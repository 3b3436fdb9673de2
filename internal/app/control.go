package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/MrWong99/theremin/internal/config"
	"github.com/MrWong99/theremin/internal/observe"
	"github.com/MrWong99/theremin/internal/pipeline"
	"github.com/MrWong99/theremin/pkg/voice"
)

// Status is the JSON body of GET /status.
type Status struct {
	Enabled      bool                      `json:"enabled"`
	Fundamental  float64                   `json:"fundamental_hz"`
	Muted        bool                      `json:"muted"`
	Waveform     voice.Waveform            `json:"waveform"`
	Amplitude    float64                   `json:"amplitude"`
	Targets      []float64                 `json:"targets_hz"`
	Glide        string                    `json:"glide_state"`
	GlideEnabled bool                      `json:"glide_enabled"`
	OutOfRange   pipeline.OutOfRangePolicy `json:"out_of_range"`
	LastFrame    *time.Time                `json:"last_frame,omitempty"`
}

// Status returns a snapshot of the instrument.
func (a *App) Status() Status {
	bs := a.bank.State()
	s := Status{
		Enabled:      a.pipe.Enabled(),
		Fundamental:  bs.Fundamental,
		Muted:        bs.Muted,
		Waveform:     bs.Waveform,
		Amplitude:    bs.Amplitude,
		Targets:      bs.Targets,
		Glide:        a.glide.State().String(),
		GlideEnabled: a.glide.Enabled(),
		OutOfRange:   a.pipe.OutOfRangePolicy(),
	}
	if t := a.pipe.LastFrame(); !t.IsZero() {
		s.LastFrame = &t
	}
	return s
}

// controlRequest is the body accepted by the control endpoints. Only the
// fields relevant to the endpoint are read.
type controlRequest struct {
	Enabled   *bool    `json:"enabled"`
	Waveform  string   `json:"waveform"`
	Level     *float64 `json:"level"`
	Amplitude *float64 `json:"amplitude"`
}

func (a *App) registerControl(mux *http.ServeMux) {
	mux.HandleFunc("POST /control/enabled", a.handleEnabled)
	mux.HandleFunc("POST /control/waveform", a.handleWaveform)
	mux.HandleFunc("POST /control/amplitude", a.handleAmplitude)
}

func (a *App) handleEnabled(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeControl(w, r)
	if !ok {
		return
	}
	if req.Enabled == nil {
		reject(w, r, `"enabled" is required`)
		return
	}
	a.pipe.SetEnabled(*req.Enabled)
	observe.Annotate(r.Context(), observe.AttrEnabled.Bool(*req.Enabled))
	a.writeStatus(w)
}

// handleWaveform accepts either a waveform name or a selector level in
// [0,1). Levels outside the selector keep the current waveform.
func (a *App) handleWaveform(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeControl(w, r)
	if !ok {
		return
	}
	switch {
	case req.Waveform != "":
		wf, err := voice.ParseWaveform(req.Waveform)
		if err != nil {
			reject(w, r, err.Error())
			return
		}
		a.bank.SetWaveform(wf)
		observe.Annotate(r.Context(), observe.AttrWaveform.String(string(wf)))
	case req.Level != nil:
		if wf, ok := voice.WaveformFromLevel(*req.Level); ok {
			a.bank.SetWaveform(wf)
			observe.Annotate(r.Context(), observe.AttrWaveform.String(string(wf)))
		}
	default:
		reject(w, r, `"waveform" or "level" is required`)
		return
	}
	a.writeStatus(w)
}

func (a *App) handleAmplitude(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeControl(w, r)
	if !ok {
		return
	}
	if req.Amplitude == nil || !(*req.Amplitude >= 0 && *req.Amplitude <= 1) {
		reject(w, r, `"amplitude" must be within [0, 1]`)
		return
	}
	a.bank.SetAmplitude(*req.Amplitude)
	observe.Annotate(r.Context(), observe.AttrAmplitude.Float64(*req.Amplitude))
	a.writeStatus(w)
}

func decodeControl(w http.ResponseWriter, r *http.Request) (controlRequest, bool) {
	var req controlRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		reject(w, r, "invalid JSON body: "+err.Error())
		return req, false
	}
	return req, true
}

// reject answers 400 and notes the refusal on the request span.
func reject(w http.ResponseWriter, r *http.Request, reason string) {
	observe.Reject(r.Context(), reason)
	http.Error(w, reason, http.StatusBadRequest)
}

func (a *App) writeStatus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(a.Status())
}

// applyConfig hot-applies the reloadable parts of a config change.
func (a *App) applyConfig(_, _ *config.Config, d config.ConfigDiff) {
	ctx, span := observe.StartSpan(context.Background(), "config.apply")
	defer span.End()
	log := observe.Logger(ctx)

	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(d.NewLogLevel.Slog())
		log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.WaveformChanged {
		a.bank.SetWaveform(d.NewWaveform)
		span.SetAttributes(observe.AttrWaveform.String(string(d.NewWaveform)))
		log.Info("waveform changed", "waveform", d.NewWaveform)
	}
	if d.AmplitudeChanged {
		a.bank.SetAmplitude(d.NewAmplitude)
		span.SetAttributes(observe.AttrAmplitude.Float64(d.NewAmplitude))
		log.Info("amplitude changed", "amplitude", d.NewAmplitude)
	}
	if d.GlideEnabledChanged {
		a.glide.SetEnabled(d.NewGlideEnabled)
		span.SetAttributes(observe.AttrGlideEnabled.Bool(d.NewGlideEnabled))
		log.Info("glide toggled", "enabled", d.NewGlideEnabled)
	}
	if d.OutOfRangeChanged {
		a.pipe.SetOutOfRangePolicy(d.NewOutOfRange)
		span.SetAttributes(observe.AttrOutOfRange.String(string(d.NewOutOfRange)))
		log.Info("out-of-range policy changed", "policy", d.NewOutOfRange)
	}
	if len(d.RestartRequired) > 0 {
		span.SetAttributes(observe.AttrRestartRequired.StringSlice(d.RestartRequired))
		log.Warn("config changes take effect after restart", "sections", d.RestartRequired)
	}
}
