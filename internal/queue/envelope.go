package queue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

// PayloadVersion is the envelope version written by this build.
const PayloadVersion = 1

var (
	// ErrUnsupportedPayload is returned for envelopes from a newer producer or
	// for a kind that does not match the task type.
	ErrUnsupportedPayload = errors.New("unsupported payload")
	// ErrInvalidPayload is returned when the data cannot be decoded or fails validation.
	ErrInvalidPayload = errors.New("invalid payload")
)

// Payload is a message that can be placed on a queue.
type Payload interface {
	TaskType() string
	// DedupKey identifies the logical job. Enqueueing the same key twice
	// while the first task is retained is a no-op. Empty disables dedupe.
	DedupKey() string
}

type envelope struct {
	Version int             `json:"version"`
	Kind    string          `json:"kind"`
	Data    json.RawMessage `json:"data"`
}

// Encode wraps p in a versioned envelope.
func Encode(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", p.TaskType(), err)
	}
	return json.Marshal(envelope{Version: PayloadVersion, Kind: p.TaskType(), Data: data})
}

// Decode unwraps the task payload into v. Unversioned payloads (a flat JSON
// object) are read as version 0. If v has a Validate method it is called.
func Decode(t *asynq.Task, v any) error {
	var env envelope
	if err := json.Unmarshal(t.Payload(), &env); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	data := []byte(env.Data)
	switch {
	case env.Version == 0 && len(env.Data) == 0:
		data = t.Payload()
	case env.Version > PayloadVersion || env.Version < 0:
		return fmt.Errorf("%w: version %d", ErrUnsupportedPayload, env.Version)
	case env.Kind != "" && env.Kind != t.Type():
		return fmt.Errorf("%w: kind %q on task %q", ErrUnsupportedPayload, env.Kind, t.Type())
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if val, ok := v.(interface{ Validate() error }); ok {
		if err := val.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}
	return nil
}

// NewTask builds an asynq task carrying p in an envelope.
func NewTask(p Payload, opts ...asynq.Option) (*asynq.Task, error) {
	body, err := Encode(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(p.TaskType(), body, opts...), nil
}
