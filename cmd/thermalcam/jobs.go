package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mtraver/thermalcam/measurement"
	"github.com/mtraver/thermalcam/render"
	"github.com/mtraver/thermalcam/stream"
)

const (
	publishTimeout = 30 * time.Second

	snapshotLayout = "20060102T150405.000Z"
)

// sink delivers the statistics of a frame somewhere off the device.
type sink func(ctx context.Context, f *measurement.Frame) error

type PublishJob struct {
	State  *state
	Sinks  map[string]sink
	Dryrun bool
}

func (j PublishJob) Run() {
	r, ok := j.State.latest()
	if !ok {
		log.Print("No frame yet, will not publish")
		return
	}

	if j.Dryrun || len(j.Sinks) == 0 {
		log.Print(r.Frame)
	} else if err := j.publish(&r.Frame); err != nil {
		log.Printf("Failed to publish frame: %v", err)
	}
}

// publish sends f to every sink concurrently and joins their errors.
func (j PublishJob) publish(f *measurement.Frame) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	var wg sync.WaitGroup

	errs := make(chan error, len(j.Sinks))

	for name, s := range j.Sinks {
		wg.Add(1)
		go func(name string, s sink) {
			defer wg.Done()

			if err := s(ctx, f); err != nil {
				errs <- fmt.Errorf("[%s] %w", name, err)
			} else {
				log.Printf("[%s] successful publish\n", name)
			}
		}(name, s)
	}

	wg.Wait()
	close(errs)

	errSlice := []error{}
	for e := range errs {
		errSlice = append(errSlice, e)
	}

	return errors.Join(errSlice...)
}

// SnapshotJob writes the latest rendered frame to Dir as a PNG named for its timestamp.
type SnapshotJob struct {
	State *state
	Dir   string
}

func (j SnapshotJob) Run() {
	r, ok := j.State.latest()
	if !ok {
		log.Print("No frame yet, will not write snapshot")
		return
	}

	path, err := j.write(r)
	if err != nil {
		log.Printf("Failed to write snapshot: %v", err)
		return
	}
	log.Printf("Wrote snapshot %s", path)
}

func (j SnapshotJob) write(r stream.Result) (string, error) {
	if err := os.MkdirAll(j.Dir, 0700); err != nil {
		return "", err
	}

	path := filepath.Join(j.Dir, r.Frame.Timestamp.UTC().Format(snapshotLayout)+".png")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}

	if err := render.WritePNG(f, r.Image); err != nil {
		f.Close()
		return "", err
	}

	return path, f.Close()
}
