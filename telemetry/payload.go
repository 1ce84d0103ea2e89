// Package telemetry ships frame summaries off the device: over MQTT, into InfluxDB, and to an
// on-disk spool when the broker cannot be reached.
package telemetry

import (
	"time"

	"github.com/mtraver/thermalcam/measurement"
	"google.golang.org/protobuf/types/known/structpb"
	tspb "google.golang.org/protobuf/types/known/timestamppb"
)

// Payload field names other than the frame statistics.
const (
	FieldDevice          = "device_id"
	FieldTimestamp       = "timestamp"
	FieldUploadTimestamp = "upload_timestamp"
)

// NewSummary builds the message describing f.
func NewSummary(deviceID string, f *measurement.Frame) (*structpb.Struct, error) {
	timepb := tspb.New(f.Timestamp)
	if err := timepb.CheckValid(); err != nil {
		return nil, err
	}

	fields := map[string]interface{}{
		FieldDevice:    deviceID,
		FieldTimestamp: timepb.AsTime().Format(time.RFC3339Nano),
	}
	for name, v := range measurement.Summary(f) {
		fields[name] = float64(v)
	}

	return structpb.NewStruct(fields)
}
