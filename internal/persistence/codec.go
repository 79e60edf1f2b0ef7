package persistence

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/petrijr/procflow/pkg/api"
)

func init() {
	// Concrete types commonly found behind map[string]any variables.
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register(map[string]string{})
	gob.Register(time.Time{})
	gob.Register(time.Duration(0))
}

// RegisterType makes a concrete variable type encodable inside snapshots.
// Applications call it for every custom type they store in process
// variables.
func RegisterType(v any) {
	gob.Register(v)
}

// Marshal gob-encodes v. Callers must ensure that values held in
// interfaces are registered.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data produced by Marshal into v, which must be a
// pointer.
func Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func encodeRecord(rec Record) ([]byte, error) {
	return Marshal(&rec)
}

func decodeRecord(data []byte) (Record, error) {
	if len(data) == 0 {
		return Record{}, api.ErrInstanceNotFound
	}
	var rec Record
	if err := Unmarshal(data, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}
