package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
)

// These are all the types of events.
const (
	EventStart    = "start"
	EventPhase    = "phase"
	EventApproval = "approval"
	EventFailure  = "failure"
	EventRetry    = "retry"
	EventDiscard  = "discard"

	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

type EventID int64

type Event struct {
	// ID is assigned by the store when the event is saved.
	ID EventID `json:"id"`

	// RunID is the run this event belongs to.
	RunID deploy.RunID `json:"runID"`

	// Type is one of the Event* constants.
	Type string `json:"type"`

	// StartedAt is the time the event began.
	StartedAt time.Time `json:"startedAt"`

	// EndedAt is the time the event ended. For instantaneous events, this will
	// be the same as StartedAt.
	EndedAt time.Time `json:"endedAt"`

	// LogLevel for this event. Used to indicate how important it is.
	// `debug|info|warn|error`
	LogLevel string `json:"logLevel"`

	// Message overrides the message derived from the metadata.
	Message string `json:"message,omitempty"`

	// Metadata is Event.Type-specific metadata. If an event has no metadata,
	// this will be nil.
	Metadata EventMetadata `json:"metadata,omitempty"`
}

type EventWriter interface {
	// LogEvent records an event in the run's audit log.
	LogEvent(Event) error
}

func (e Event) String() string {
	if e.Message != "" {
		return e.Message
	}

	switch e.Type {
	case EventStart:
		return fmt.Sprintf("Started run %s", e.RunID)
	case EventPhase:
		metadata := e.Metadata.(*PhaseEventMetadata)
		if metadata.From == "" {
			return fmt.Sprintf("Phase: %s", metadata.To)
		}
		return fmt.Sprintf("Phase: %s -> %s", metadata.From, metadata.To)
	case EventApproval:
		metadata := e.Metadata.(*ApprovalEventMetadata)
		by := ""
		if metadata.By != "" {
			by = " by " + metadata.By
		}
		msg := ""
		if metadata.Comment != "" {
			msg = ": " + metadata.Comment
		}
		return fmt.Sprintf("Gate %s: %s%s%s", metadata.Gate, metadata.Decision, by, msg)
	case EventFailure:
		metadata := e.Metadata.(*FailureEventMetadata)
		kind := "error"
		if metadata.Kind != "" {
			kind = string(metadata.Kind)
		}
		return fmt.Sprintf("Failed in %s at %s: %s: %s", metadata.Stage, metadata.Phase, kind, metadata.Reason)
	case EventRetry:
		return "Retry requested"
	case EventDiscard:
		return "Discard requested"
	default:
		return fmt.Sprintf("Unknown event: %s", e.Type)
	}
}

// PhaseEventMetadata is the metadata for a phase transition.
type PhaseEventMetadata struct {
	From  deploy.Phase `json:"from,omitempty"`
	To    deploy.Phase `json:"to"`
	Stage deploy.Stage `json:"stage,omitempty"`
}

// ApprovalEventMetadata is the metadata for a gate decision.
type ApprovalEventMetadata struct {
	deploy.Approval
}

// FailureEventMetadata is the metadata for a stage failure.
type FailureEventMetadata struct {
	deploy.Failure
}

type UnknownEventMetadata map[string]interface{}

func (e *Event) UnmarshalJSON(in []byte) error {
	type alias Event
	var wireEvent struct {
		*alias
		MetadataBytes json.RawMessage `json:"metadata,omitempty"`
	}
	wireEvent.alias = (*alias)(e)

	if err := json.Unmarshal(in, &wireEvent); err != nil {
		return err
	}
	if wireEvent.Type == "" {
		return errors.New("Event type is empty")
	}

	metadata, err := DecodeMetadata(wireEvent.Type, wireEvent.MetadataBytes)
	if err != nil {
		return err
	}
	e.Metadata = metadata
	return nil
}

// DecodeMetadata decodes the metadata of an event of type typ. Empty
// input gives nil metadata.
func DecodeMetadata(typ string, b []byte) (EventMetadata, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var metadata EventMetadata
	switch typ {
	case EventPhase:
		metadata = &PhaseEventMetadata{}
	case EventApproval:
		metadata = &ApprovalEventMetadata{}
	case EventFailure:
		metadata = &FailureEventMetadata{}
	default:
		var unknown UnknownEventMetadata
		if err := json.Unmarshal(b, &unknown); err != nil {
			return nil, err
		}
		return unknown, nil
	}
	if err := json.Unmarshal(b, metadata); err != nil {
		return nil, errors.Wrapf(err, "decoding %s event metadata", typ)
	}
	return metadata, nil
}

// EventMetadata is a type safety trick used to make sure that Metadata field
// of Event is always a pointer, so that consumers can cast without being
// concerned about encountering a value type instead.
type EventMetadata interface {
	Type() string
}

func (m *PhaseEventMetadata) Type() string {
	return EventPhase
}

func (m *ApprovalEventMetadata) Type() string {
	return EventApproval
}

func (m *FailureEventMetadata) Type() string {
	return EventFailure
}

// Special exception from pointer receiver rule, as UnknownEventMetadata is a
// type alias for a map
func (uem UnknownEventMetadata) Type() string {
	return "unknown"
}

// ForTransition builds the event for a run moving between phases.
func ForTransition(id deploy.RunID, from deploy.Phase, t deploy.Transition) Event {
	level := LogLevelInfo
	if t.Phase == deploy.PhaseFailed {
		level = LogLevelWarn
	}
	return Event{
		RunID:     id,
		Type:      EventPhase,
		StartedAt: t.At,
		EndedAt:   t.At,
		LogLevel:  level,
		Metadata: &PhaseEventMetadata{
			From:  from,
			To:    t.Phase,
			Stage: deploy.StageFor(t.Phase),
		},
	}
}
