package telemetry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/go-cmp/cmp"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/mtraver/thermalcam/measurement"
	"github.com/mtraver/thermalcam/render"
	"github.com/mtraver/thermalcam/sensor"
	"github.com/mtraver/thermalcam/settings"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

var testTimestamp = time.Date(2018, time.March, 25, 0, 0, 0, 0, time.UTC)

// testFrame has a cold top half and a warm bottom half, so every statistic is exact.
func testFrame() *measurement.Frame {
	f := &measurement.Frame{Timestamp: testTimestamp, AmbientTemp: 30.5}
	for i := range f.Temps {
		if i < measurement.PixelCount/2 {
			f.Temps[i] = 10
		} else {
			f.Temps[i] = 20
		}
	}
	f.UpdateRange()
	return f
}

var wantSummary = map[string]interface{}{
	FieldDevice:    "cam0",
	FieldTimestamp: "2018-03-25T00:00:00Z",
	"min":          10.0,
	"max":          20.0,
	"mean":         15.0,
	"stddev":       5.0,
	"spot":         20.0,
	"ambient":      30.5,
}

func TestNewSummary(t *testing.T) {
	s, err := NewSummary("cam0", testFrame())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if diff := cmp.Diff(s.AsMap(), wantSummary); diff != "" {
		t.Errorf("Unexpected result (-got +want):\n%s", diff)
	}
}

func TestNewSummaryInvalidTimestamp(t *testing.T) {
	f := testFrame()
	f.Timestamp = time.Date(10000, time.January, 1, 0, 0, 0, 0, time.UTC)

	if _, err := NewSummary("cam0", f); err == nil {
		t.Errorf("Expected error for out of range timestamp")
	}
}

func TestNewInfluxDBPoints(t *testing.T) {
	point := func(field string, v float64) *write.Point {
		return influxdb2.NewPointWithMeasurement("thermal").AddTag("device", "cam0").AddField(field, v).SetTime(testTimestamp)
	}
	want := []*write.Point{
		point("ambient", 30.5),
		point("max", 20),
		point("mean", 15),
		point("min", 10),
		point("spot", 20),
		point("stddev", 5),
	}

	got := newInfluxDBPoints("cam0", testFrame())

	// One field per point, so sorting by the first field's key is enough.
	sort.Slice(got, func(i, j int) bool {
		return got[i].FieldList()[0].Key < got[j].FieldList()[0].Key
	})

	if diff := cmp.Diff(got, want, cmp.AllowUnexported(write.Point{})); diff != "" {
		t.Errorf("Unexpected result (-got +want):\n%s", diff)
	}
}

type fakeToken struct {
	err error
}

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Error() error                   { return t.err }

func (t fakeToken) Done() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

// fakeClient records publishes. Methods it does not override panic through the nil embedded
// interface.
type fakeClient struct {
	mqtt.Client

	mu        sync.Mutex
	err       error
	published [][]byte
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return fakeToken{err: c.err}
	}
	c.published = append(c.published, payload.([]byte))
	return fakeToken{}
}

func decode(t *testing.T, b []byte) map[string]interface{} {
	t.Helper()

	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	return s.AsMap()
}

func TestPublisherSpoolsFailures(t *testing.T) {
	client := &fakeClient{err: errors.New("not connected")}
	spool := &Spool{Dir: filepath.Join(t.TempDir(), "spool")}
	p := &Publisher{Client: client, Topic: "thermal/cam0", DeviceID: "cam0", Spool: spool}

	if err := p.Publish(testFrame()); err == nil {
		t.Fatalf("Expected error while broker is unreachable")
	}
	files, err := os.ReadDir(spool.Dir)
	if err != nil || len(files) != 1 {
		t.Fatalf("Got %d spooled files (err %v), want 1", len(files), err)
	}

	// The next successful publish flushes the spool after the live summary.
	client.err = nil
	if err := p.Publish(testFrame()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(client.published) != 2 {
		t.Fatalf("Got %d publishes, want 2", len(client.published))
	}
	if diff := cmp.Diff(decode(t, client.published[0]), wantSummary); diff != "" {
		t.Errorf("Unexpected live summary (-got +want):\n%s", diff)
	}
	spooled := decode(t, client.published[1])
	if _, ok := spooled[FieldUploadTimestamp]; !ok {
		t.Errorf("Spooled summary has no %s field", FieldUploadTimestamp)
	}
	delete(spooled, FieldUploadTimestamp)
	if diff := cmp.Diff(spooled, wantSummary); diff != "" {
		t.Errorf("Unexpected spooled summary (-got +want):\n%s", diff)
	}

	files, err = os.ReadDir(spool.Dir)
	if err != nil || len(files) != 0 {
		t.Errorf("Got %d spooled files (err %v) after flush, want 0", len(files), err)
	}
}

func TestSpoolPublishAll(t *testing.T) {
	dir := t.TempDir()
	spool := &Spool{Dir: dir}

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep me"), 0644); err != nil {
		t.Fatal(err)
	}
	s, err := NewSummary("cam0", testFrame())
	if err != nil {
		t.Fatal(err)
	}
	if err := spool.Save(s); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// A failing send leaves the file in place.
	errSend := errors.New("send failed")
	if err := spool.PublishAll(func([]byte) error { return errSend }); !errors.Is(err, errSend) {
		t.Fatalf("Got error %v, want %v", err, errSend)
	}

	var sent int
	if err := spool.PublishAll(func([]byte) error { sent++; return nil }); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if sent != 1 {
		t.Errorf("Sent %d summaries, want 1", sent)
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Name() != "notes.txt" {
		t.Errorf("Unexpected files left in spool: %v", files)
	}

	missing := &Spool{Dir: filepath.Join(dir, "missing")}
	if err := missing.PublishAll(func([]byte) error { return errSend }); err != nil {
		t.Errorf("Missing spool dir gave error %v, want nil", err)
	}
}

type fakeMessage struct {
	mqtt.Message
	payload []byte
	acked   bool
}

func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) MessageID() uint16 { return 7 }
func (m *fakeMessage) Ack()              { m.acked = true }

func TestConfigHandler(t *testing.T) {
	current := settings.Settings{Scheme: render.Gray, LeftHanded: true, Framerate: sensor.Rate2Hz}

	cases := []struct {
		name      string
		payload   string
		want      settings.Settings
		wantApply bool
	}{
		{
			name:      "partial_update",
			payload:   "framerate:5\ncolor_type:hue",
			want:      settings.Settings{Scheme: render.Hue, LeftHanded: true, Framerate: sensor.Rate16Hz},
			wantApply: true,
		},
		{
			name:      "malformed",
			payload:   "framerate:fast",
			wantApply: false,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var got settings.Settings
			applied := false
			h := ConfigHandler(
				func() settings.Settings { return current },
				func(s settings.Settings) { got, applied = s, true },
			)

			msg := &fakeMessage{payload: []byte(c.payload)}
			h(nil, msg)

			if !msg.acked {
				t.Errorf("Message not acknowledged")
			}
			if applied != c.wantApply {
				t.Fatalf("applied = %v, want %v", applied, c.wantApply)
			}
			if diff := cmp.Diff(got, c.want); c.wantApply && diff != "" {
				t.Errorf("Unexpected result (-got +want):\n%s", diff)
			}
		})
	}
}

func TestNewClientOptions(t *testing.T) {
	o := MQTTOptions{
		Broker:      "tcp://localhost:1883",
		ClientID:    "cam0",
		StoreDir:    t.TempDir(),
		ConfigTopic: "thermal/cam0/config",
	}

	opts := NewClientOptions(o, nil)
	if opts.ClientID != "cam0" {
		t.Errorf("ClientID = %q, want %q", opts.ClientID, "cam0")
	}
	if len(opts.Servers) != 1 || opts.Servers[0].Host != "localhost:1883" {
		t.Errorf("Servers = %v, want [tcp://localhost:1883]", opts.Servers)
	}
	if opts.Store == nil {
		t.Errorf("No store configured")
	}
}

func TestInfluxDBSaveUnreachable(t *testing.T) {
	db := NewInfluxDB("http://127.0.0.1:1", "token", "org", "bucket")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := db.Save(ctx, "cam0", testFrame()); err == nil {
		t.Errorf("Expected error writing to an unreachable server")
	}
}
