package telemetry

import (
	"context"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/mtraver/thermalcam/measurement"
)

const influxMeasurement = "thermal"

func newInfluxDBPoints(deviceID string, f *measurement.Frame) []*write.Point {
	summary := measurement.Summary(f)
	points := make([]*write.Point, 0, len(summary))
	for name, v := range summary {
		p := influxdb2.NewPointWithMeasurement(influxMeasurement).
			AddTag("device", deviceID).
			AddField(name, float64(v)).
			SetTime(f.Timestamp)
		points = append(points, p)
	}

	return points
}

type InfluxDB struct {
	serverURL string
	token     string
	org       string
	bucket    string
}

func NewInfluxDB(serverURL, token, org, bucket string) *InfluxDB {
	return &InfluxDB{
		serverURL: serverURL,
		token:     token,
		org:       org,
		bucket:    bucket,
	}
}

// Save writes the statistics of f, one point per statistic.
func (db *InfluxDB) Save(ctx context.Context, deviceID string, f *measurement.Frame) error {
	client := influxdb2.NewClient(db.serverURL, db.token)
	defer client.Close()

	writeAPI := client.WriteAPIBlocking(db.org, db.bucket)
	return writeAPI.WritePoint(ctx, newInfluxDBPoints(deviceID, f)...)
}
