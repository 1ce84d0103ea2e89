package main

import (
	"sync"

	"github.com/mtraver/thermalcam/settings"
	"github.com/mtraver/thermalcam/stream"
)

// state is what the acquisition loop shares with the web server and the cron jobs.
type state struct {
	mu sync.Mutex

	cfg     stream.Config
	last    stream.Result
	frames  int
	lastErr error
}

func newState(cfg stream.Config) *state {
	return &state{cfg: cfg}
}

func (s *state) config() stream.Config {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cfg
}

func (s *state) currentSettings() settings.Settings {
	return s.config().Settings
}

// setSettings replaces the user settings and offers the resulting config to slot. The offer is
// made under the lock so the config left in slot is always the one state reports.
func (s *state) setSettings(set settings.Settings, slot chan stream.Config) stream.Config {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg.Settings = set
	stream.Offer(slot, s.cfg)
	return s.cfg
}

// update records one result from the acquisition loop. A failed cycle keeps the last good frame.
func (s *state) update(r stream.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Err != nil {
		s.lastErr = r.Err
		return
	}

	s.last = r
	s.frames++
	s.lastErr = nil
}

// latest returns the last good result, or false if there has been none.
func (s *state) latest() (stream.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.last, s.frames > 0
}

// status returns the frame count and the error from the most recent cycle, if it failed.
func (s *state) status() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.frames, s.lastErr
}
