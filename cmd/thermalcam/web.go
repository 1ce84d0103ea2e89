package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/mtraver/thermalcam/cache"
	"github.com/mtraver/thermalcam/measurement"
	"github.com/mtraver/thermalcam/render"
	"github.com/mtraver/thermalcam/sensor"
	"github.com/mtraver/thermalcam/settings"
)

const (
	frameTTL = 10 * time.Second

	legendWidth  = 16
	legendHeight = 240
	legendTTL    = time.Hour

	// Settings bodies are a handful of short lines.
	maxSettingsBody = 4096
)

// framerateReader is a sensor that can report the refresh rate it is actually running at.
type framerateReader interface {
	Framerate() (sensor.Framerate, error)
}

type indexHandler struct {
	deviceID string
	state    *state
	cam      sensor.Sensor
}

func (h indexHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	cfg := h.state.config()
	frames, lastErr := h.state.status()

	fmt.Fprintf(w, "device: %s\n", h.deviceID)
	fmt.Fprintf(w, "color_type: %s\nleft_handed: %t\nframerate: %s\n", cfg.Scheme, cfg.LeftHanded, cfg.Framerate)
	if fr, ok := h.cam.(framerateReader); ok {
		if rate, err := fr.Framerate(); err != nil {
			fmt.Fprintf(w, "device framerate: unknown (%v)\n", err)
		} else {
			fmt.Fprintf(w, "device framerate: %s\n", rate)
		}
	}
	fmt.Fprintf(w, "frames: %d\n", frames)

	if res, ok := h.state.latest(); ok {
		fmt.Fprintf(w, "frame: %s\n", res.Frame)

		summary := measurement.Summary(&res.Frame)
		names := make([]string, 0, len(summary))
		for name := range summary {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "%s: %.2f\n", name, summary[name])
		}
	} else {
		fmt.Fprintln(w, "frame: none")
	}

	if lastErr != nil {
		fmt.Fprintf(w, "last error: %v\n", lastErr)
	}
}

// frameHandler serves the latest rendered frame as a PNG. Encodings are cached per frame.
type frameHandler struct {
	state *state
	cache *cache.Cache[[]byte]
}

func (h frameHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	res, ok := h.state.latest()
	if !ok {
		http.Error(w, "no frame yet", http.StatusServiceUnavailable)
		return
	}

	key := res.Frame.Timestamp.Format(time.RFC3339Nano)
	b, err := h.cache.GetOrCompute(key, frameTTL, func() ([]byte, error) {
		var buf bytes.Buffer
		if err := render.WritePNG(&buf, res.Image); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(b)
}

// legendHandler serves the color scale of the current scheme as a PNG, hottest at the top.
type legendHandler struct {
	state *state
	cache *cache.Cache[[]byte]
}

func (h legendHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	scheme := h.state.currentSettings().Scheme

	b, err := h.cache.GetOrCompute("legend/"+scheme.String(), legendTTL, func() ([]byte, error) {
		var buf bytes.Buffer
		if err := render.EncodePNG(&buf, render.Gradient(scheme, legendWidth, legendHeight), legendWidth, legendHeight); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(b)
}

// settingsHandler shows the settings on GET and applies a partial update in the settings file
// format on POST.
type settingsHandler struct {
	state *state
	apply func(settings.Settings)
}

func (h settingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.state.currentSettings().Format(w)
	case http.MethodPost:
		s, err := h.state.currentSettings().Update(io.LimitReader(r.Body, maxSettingsBody))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.apply(s)
		s.Format(w)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
