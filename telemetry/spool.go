package telemetry

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const spoolExt = ".json"

// Spool keeps summaries that failed to publish, one JSON file each, until they can be sent.
type Spool struct {
	Dir string
}

// Save converts the given summary to JSON and saves it to disk.
func (s *Spool) Save(summary *structpb.Struct) error {
	b, err := protojson.MarshalOptions{Indent: "  "}.Marshal(summary)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.Dir, 0700); err != nil {
		return err
	}

	filename := fmt.Sprintf("%x%s", sha256.Sum256(b), spoolExt)
	return os.WriteFile(filepath.Join(s.Dir, filename), b, 0644)
}

// PublishAll sends every saved summary with send, deleting each once it is sent. It stops at
// and returns the first error.
func (s *Spool) PublishAll(send func([]byte) error) error {
	files, err := os.ReadDir(s.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), spoolExt) {
			continue
		}

		path := filepath.Join(s.Dir, file.Name())
		if err := publishFile(send, path); err != nil {
			return err
		}
		os.Remove(path)
	}

	return nil
}

func publishFile(send func([]byte) error, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var summary structpb.Struct
	if err := protojson.Unmarshal(b, &summary); err != nil {
		return fmt.Errorf("spool: %s: %w", filepath.Base(path), err)
	}

	// Mark the delayed upload.
	if summary.Fields == nil {
		summary.Fields = make(map[string]*structpb.Value)
	}
	summary.Fields[FieldUploadTimestamp] = structpb.NewStringValue(time.Now().UTC().Format(time.RFC3339Nano))

	pb, err := proto.Marshal(&summary)
	if err != nil {
		return err
	}

	return send(pb)
}
