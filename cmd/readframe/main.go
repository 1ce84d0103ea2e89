// Program readframe captures a single frame from an MLX90640 and writes it as a PNG.
//
// Usage:
//
//	readframe [-min 20] [-max 40] [filename [color]]
//
// filename defaults to out.png and color, one of gray, cheap or hue, to cheap.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mtraver/thermalcam/bus"
	"github.com/mtraver/thermalcam/measurement"
	"github.com/mtraver/thermalcam/render"
	"github.com/mtraver/thermalcam/sensor"
	"github.com/mtraver/thermalcam/sensor/dummy"
	"github.com/mtraver/thermalcam/sensor/mlx90640"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	defaultFilename = "out.png"
	defaultScheme   = render.Cheap
)

// Flags.
var (
	minTemp float64
	maxTemp float64
	i2cBus  string
	hwsim   bool
)

func init() {
	flag.Float64Var(&minTemp, "min", 20, "temperature at the cold end of the color scale")
	flag.Float64Var(&maxTemp, "max", 40, "temperature at the hot end of the color scale")
	flag.StringVar(&i2cBus, "bus", "", "name of the I²C bus the camera is on; empty means the first available")
	flag.BoolVar(&hwsim, "hwsim", false, "use a synthetic sensor instead of the camera")
}

func fatal(format string, a ...interface{}) {
	fmt.Printf(format+"\n", a...)
	os.Exit(1)
}

type args struct {
	filename string
	scheme   render.Scheme
}

func parseArgs(pos []string) (args, error) {
	a := args{filename: defaultFilename, scheme: defaultScheme}
	if len(pos) > 2 {
		return args{}, fmt.Errorf("too many arguments: %q", pos)
	}

	if len(pos) > 0 {
		a.filename = pos[0]
	}
	if len(pos) > 1 {
		s, err := render.ParseScheme(pos[1])
		if err != nil {
			return args{}, err
		}
		a.scheme = s
	}

	return a, nil
}

// capture initializes s and renders one frame from it.
func capture(s sensor.Sensor, scheme render.Scheme, b render.Bounds) (measurement.Frame, render.RGB, error) {
	if err := s.Init(); err != nil {
		return measurement.Frame{}, nil, fmt.Errorf("init: %w", err)
	}

	f, err := s.Sense()
	if err != nil {
		return measurement.Frame{}, nil, fmt.Errorf("sense: %w", err)
	}

	return f, render.Render(&f, scheme, b), nil
}

func writeFile(path string, buf render.RGB) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := render.WritePNG(f, buf); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

func main() {
	flag.Parse()

	a, err := parseArgs(flag.Args())
	if err != nil {
		fatal("Argument error: %v", err)
	}
	if minTemp >= maxTemp {
		fatal("Argument error: min (%v) must be below max (%v)", minTemp, maxTemp)
	}

	var s sensor.Sensor
	if hwsim {
		d := &dummy.Dummy{}
		d.SetFramerate(sensor.Rate8Hz)
		s = d
	} else {
		if _, err := host.Init(); err != nil {
			fatal("Failed to initialize periph: %v", err)
		}

		b, err := i2creg.Open(i2cBus)
		if err != nil {
			fatal("Failed to open I²C bus: %v", err)
		}
		defer b.Close()

		s = mlx90640.NewI2C(bus.NewShared(b), mlx90640.DefaultAddr, nil)
	}
	defer s.Shutdown()

	f, buf, err := capture(s, a.scheme, render.Bounds{Min: float32(minTemp), Max: float32(maxTemp)})
	if err != nil {
		fatal("Failed to read frame: %v", err)
	}

	if err := writeFile(a.filename, buf); err != nil {
		fatal("Failed to write %s: %v", a.filename, err)
	}

	fmt.Println(f)
}
