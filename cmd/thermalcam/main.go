// Program thermalcam streams frames from an MLX90640 thermal camera. It serves the latest frame
// over HTTP, optionally mirrors it to an SSD1306 OLED, writes periodic PNG snapshots, and
// publishes frame statistics over MQTT and to InfluxDB.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/mtraver/envtools"
	"github.com/mtraver/thermalcam/bus"
	"github.com/mtraver/thermalcam/cache"
	"github.com/mtraver/thermalcam/display"
	"github.com/mtraver/thermalcam/measurement"
	"github.com/mtraver/thermalcam/render"
	"github.com/mtraver/thermalcam/sensor"
	"github.com/mtraver/thermalcam/sensor/dummy"
	"github.com/mtraver/thermalcam/sensor/mlx90640"
	"github.com/mtraver/thermalcam/settings"
	"github.com/mtraver/thermalcam/stream"
	"github.com/mtraver/thermalcam/telemetry"
	cron "github.com/robfig/cron/v3"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Flags.
var (
	i2cBus       string
	hwsim        bool
	oled         bool
	port         int
	deviceID     string
	cronSpec     string
	snapshotSpec string
	broker       string
	influxURL    string
	influxOrg    string
	influxBucket string
	minTemp      float64
	maxTemp      float64
	dryrun       bool
)

var (
	// This directory is where we'll store anything the program needs to persist, like settings
	// and summaries that are pending upload. This is joined with the user's home directory in init.
	dotDir = settings.DotDir

	// The directory in which paho keeps in-flight MQTT messages. This is joined with the user's
	// home directory in init.
	mqttStoreDir = path.Join(dotDir, "mqtt_store")

	// Summaries that failed to publish. This is joined with the user's home directory in init.
	spoolDir = path.Join(dotDir, "spool")

	// This is joined with the user's home directory in init.
	snapshotDir = path.Join(dotDir, "snapshots")
)

func init() {
	flag.StringVar(&i2cBus, "bus", "", "name of the I²C bus the camera is on; empty means the first available")
	flag.BoolVar(&hwsim, "hwsim", false, "use a synthetic sensor instead of the camera")
	flag.BoolVar(&oled, "oled", false, "mirror frames to an SSD1306 OLED on the same bus")
	flag.IntVar(&port, "port", 8080, "port on which the device's web server should listen")
	flag.StringVar(&deviceID, "device", "thermalcam", "device ID used in telemetry and MQTT topics")
	flag.StringVar(&cronSpec, "cronspec", "@every 1m", "cron spec that specifies when to publish frame statistics")
	flag.StringVar(&snapshotSpec, "snapshotspec", "", "cron spec that specifies when to write PNG snapshots; empty disables snapshots")
	flag.StringVar(&broker, "broker", "", "MQTT broker URL, e.g. tcp://localhost:1883; empty disables MQTT")
	flag.StringVar(&influxURL, "influxdb", "", "InfluxDB server URL; empty disables InfluxDB. The token is read from $INFLUXDB_TOKEN")
	flag.StringVar(&influxOrg, "influxdb-org", "", "InfluxDB organization")
	flag.StringVar(&influxBucket, "influxdb-bucket", "thermalcam", "InfluxDB bucket")
	flag.Float64Var(&minTemp, "min", 0, "temperature at the cold end of the color scale; with -max unset, each frame's own range is used")
	flag.Float64Var(&maxTemp, "max", 0, "temperature at the hot end of the color scale")
	flag.BoolVar(&dryrun, "dryrun", false, "set to true to print rather than publish frame statistics")

	// Update directory and file paths by joining them to the user's home directory.
	home, err := homedir.Dir()
	if err != nil {
		log.Fatalf("Failed to get home dir: %v", err)
	}
	dotDir = path.Join(home, dotDir)
	mqttStoreDir = path.Join(home, mqttStoreDir)
	spoolDir = path.Join(home, spoolDir)
	snapshotDir = path.Join(home, snapshotDir)
}

func parseFlags() error {
	flag.Parse()

	if cronSpec == "" {
		return fmt.Errorf("cronspec flag must be given")
	}

	if (minTemp != 0 || maxTemp != 0) && minTemp >= maxTemp {
		return fmt.Errorf("min (%v) must be below max (%v)", minTemp, maxTemp)
	}

	if influxURL != "" && influxOrg == "" {
		return fmt.Errorf("influxdb-org flag must be given with influxdb")
	}

	if oled && hwsim {
		return fmt.Errorf("oled and hwsim flags are mutually exclusive")
	}

	return nil
}

// consume keeps the newest good frame in st and mirrors it to screen, if any.
func consume(results <-chan stream.Result, st *state, screen *display.OLED) {
	for r := range results {
		st.update(r)

		if r.Err != nil {
			log.Printf("Failed to acquire frame: %v", r.Err)
			continue
		}

		if screen != nil {
			if err := screen.Show(&r.Frame, r.Config.BoundsFor(&r.Frame)); err != nil {
				log.Printf("Failed to update display: %v", err)
			}
		}
	}
}

func main() {
	if err := parseFlags(); err != nil {
		fmt.Printf("argument error: %v\n", err)
		os.Exit(2)
	}

	// Make all directories required by the program.
	dirs := []string{dotDir, mqttStoreDir, spoolDir}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			log.Fatalf("Failed to make dir %s: %v", dir, err)
		}
	}

	settingsPath, err := settings.DefaultPath()
	if err != nil {
		log.Fatalf("Failed to find settings file: %v", err)
	}
	userSettings, err := settings.Load(settingsPath)
	if err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}

	var shared *bus.Shared
	sensorName := "dummy"
	if hwsim {
		sensor.Register(sensorName, &dummy.Dummy{})
	} else {
		// Initialize periph.
		if _, err := host.Init(); err != nil {
			log.Fatalf("Failed to initialize periph: %v", err)
		}

		b, err := i2creg.Open(i2cBus)
		if err != nil {
			log.Fatalf("Failed to open I²C bus: %v", err)
		}
		defer b.Close()

		shared = bus.NewShared(b)
		sensorName = "mlx90640"
		sensor.Register(sensorName, mlx90640.NewI2C(shared, mlx90640.DefaultAddr, nil))
	}

	cam, err := sensor.Get(sensorName)
	if err != nil {
		log.Fatal(err)
	}
	if err := cam.Init(); err != nil {
		log.Fatalf("Failed to init %q: %v", sensorName, err)
	}

	var screen *display.OLED
	if oled {
		if screen, err = display.New(shared, nil); err != nil {
			log.Fatalf("Failed to initialize OLED: %v", err)
		}
	}

	st := newState(stream.Config{
		Settings: userSettings,
		Bounds:   render.Bounds{Min: float32(minTemp), Max: float32(maxTemp)},
	})
	slot := stream.NewSlot()
	apply := func(s settings.Settings) {
		st.setSettings(s, slot)
		log.Printf("Applied settings: scheme %v, left handed %t, framerate %v", s.Scheme, s.LeftHanded, s.Framerate)

		if err := settings.Save(settingsPath, s); err != nil {
			log.Printf("Failed to save settings: %v", err)
		}
	}

	sinks := make(map[string]sink)

	var client mqtt.Client
	if broker != "" {
		client, err = telemetry.MQTTConnect(telemetry.MQTTOptions{
			Broker:      broker,
			ClientID:    deviceID,
			StoreDir:    mqttStoreDir,
			ConfigTopic: fmt.Sprintf("thermalcam/%s/config", deviceID),
		}, telemetry.ConfigHandler(st.currentSettings, apply))
		if err != nil {
			log.Fatal(err)
		}

		p := &telemetry.Publisher{
			Client:   client,
			Topic:    fmt.Sprintf("thermalcam/%s/telemetry", deviceID),
			DeviceID: deviceID,
			Spool:    &telemetry.Spool{Dir: spoolDir},
		}
		sinks["mqtt"] = func(ctx context.Context, f *measurement.Frame) error {
			return p.Publish(f)
		}
	}

	if influxURL != "" {
		db := telemetry.NewInfluxDB(influxURL, envtools.MustGetenv("INFLUXDB_TOKEN"), influxOrg, influxBucket)
		sinks["influx"] = func(ctx context.Context, f *measurement.Frame) error {
			return db.Save(ctx, deviceID, f)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	// If the program is killed, stop acquiring and disconnect from the MQTT server.
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		log.Println("Cleaning up...")
		cancel()
		if client != nil {
			client.Disconnect(250)
		}
		if screen != nil {
			screen.Halt()
		}
		cam.Shutdown()
		time.Sleep(500 * time.Millisecond)
		os.Exit(1)
	}()

	results := make(chan stream.Result)
	go func() {
		err := stream.Run(ctx, cam, st.config(), slot, results, stream.DefaultOpts)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Acquisition stopped: %v", err)
		}
	}()
	go consume(results, st, screen)

	cr := cron.New()
	log.Printf("Starting cron scheduler with spec %q", cronSpec)
	if _, err := cr.AddJob(cronSpec, PublishJob{State: st, Sinks: sinks, Dryrun: dryrun}); err != nil {
		log.Fatalf("Bad cronspec: %v", err)
	}
	if snapshotSpec != "" {
		if _, err := cr.AddJob(snapshotSpec, SnapshotJob{State: st, Dir: snapshotDir}); err != nil {
			log.Fatalf("Bad snapshotspec: %v", err)
		}
	}
	cr.Start()

	// Start up a web server that shows the latest frame and its statistics.
	http.Handle("/", indexHandler{
		deviceID: deviceID,
		state:    st,
		cam:      cam,
	})
	pngCache := cache.New[[]byte]()
	http.Handle("/frame.png", frameHandler{
		state: st,
		cache: pngCache,
	})
	http.Handle("/legend.png", legendHandler{
		state: st,
		cache: pngCache,
	})
	http.Handle("/settings", settingsHandler{
		state: st,
		apply: apply,
	})
	if err := http.ListenAndServe(fmt.Sprintf(":%v", port), nil); err != nil {
		log.Fatal(err)
	}
}
