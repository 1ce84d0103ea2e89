// Package settings reads and writes the camera's persistent settings file.
//
// The file holds one key:value pair per line:
//
//	color_type:cheap
//	left_handed:false
//	framerate:4
//
// Blank lines and lines starting with # are skipped and unknown keys are ignored.
package settings

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/mtraver/thermalcam/render"
	"github.com/mtraver/thermalcam/sensor"
)

const (
	// DotDir is joined with the user's home directory.
	DotDir   = ".thermalcam"
	fileName = "settings"

	keyColorType  = "color_type"
	keyLeftHanded = "left_handed"
	keyFramerate  = "framerate"
)

type Settings struct {
	Scheme     render.Scheme
	LeftHanded bool
	Framerate  sensor.Framerate
}

var Default = Settings{
	Scheme:     render.Cheap,
	LeftHanded: false,
	Framerate:  sensor.Rate4Hz,
}

// DefaultPath returns the settings file location in the user's home directory.
func DefaultPath() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}

	return filepath.Join(home, DotDir, fileName), nil
}

// Parse reads settings from r, starting from Default.
func Parse(r io.Reader) (Settings, error) {
	return Default.Update(r)
}

// Update returns s with the keys present in r applied to it.
func (s Settings) Update(r io.Reader) (Settings, error) {
	scanner := bufio.NewScanner(r)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return Settings{}, fmt.Errorf("settings: line %d: missing ':' in %q", n, line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		var err error
		switch key {
		case keyColorType:
			s.Scheme, err = render.ParseScheme(value)
		case keyLeftHanded:
			s.LeftHanded, err = strconv.ParseBool(value)
		case keyFramerate:
			s.Framerate, err = sensor.ParseFramerate(value)
		}
		if err != nil {
			return Settings{}, fmt.Errorf("settings: line %d: %w", n, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return Settings{}, err
	}

	return s, nil
}

// Format writes s in the form Parse reads.
func (s Settings) Format(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%s:%s\n%s:%t\n%s:%d\n",
		keyColorType, s.Scheme, keyLeftHanded, s.LeftHanded, keyFramerate, s.Framerate)
	return err
}

// Load reads the settings file at path, which may start with ~. A missing file yields Default.
func Load(path string) (Settings, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return Settings{}, err
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default, nil
	} else if err != nil {
		return Settings{}, err
	}
	defer f.Close()

	return Parse(f)
}

// Save writes s to path, creating its directory if needed. The file is replaced atomically.
func Save(path string, s Settings) error {
	path, err := homedir.Expand(path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, fileName+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := s.Format(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}
