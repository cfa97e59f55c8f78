package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/brunobiangulo/papergraph/report"
	"github.com/brunobiangulo/papergraph/validation"
)

// Event subjects.
const (
	SubjectValidationCompleted = "papergraph.validation.completed"
	SubjectRelationshipFlagged = "papergraph.relationship.flagged"
	SubjectStageCompleted      = "papergraph.stage.completed"
)

// ValidationCompletedEvent is emitted once per validation run.
type ValidationCompletedEvent struct {
	EventID             string                         `json:"event_id"`
	RunID               string                         `json:"run_id"`
	EntitySummary       validation.EntitySummary       `json:"entity_summary"`
	RelationshipSummary validation.RelationshipSummary `json:"relationship_summary"`
	Marked              int                            `json:"marked"`
	Timestamp           time.Time                      `json:"timestamp"`
}

// RelationshipFlaggedEvent is emitted for each relationship flagged for
// review.
type RelationshipFlaggedEvent struct {
	EventID        string             `json:"event_id"`
	RunID          string             `json:"run_id"`
	RelationshipID int64              `json:"relationship_id"`
	SourcePaperID  int64              `json:"source_paper_id"`
	TargetPaperID  int64              `json:"target_paper_id"`
	Kind           string             `json:"relationship_type"`
	Confidence     float64            `json:"confidence"`
	IsValid        bool               `json:"is_valid"`
	Issues         []validation.Issue `json:"issues"`
	Timestamp      time.Time          `json:"timestamp"`
}

// StageCompletedEvent is emitted after an extraction or discovery batch.
type StageCompletedEvent struct {
	EventID    string    `json:"event_id"`
	Stage      string    `json:"stage"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	DurationMs int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventPublisher delivers encoded events to a subject.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Close() error
}

// NATSPublisher publishes events on a core NATS connection.
type NATSPublisher struct {
	nc *nats.Conn
}

// NewNATSPublisher connects to url.
func NewNATSPublisher(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("papergraph"))
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	return &NATSPublisher{nc: nc}, nil
}

// Publish sends data and waits for the server to acknowledge the flush.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return p.nc.FlushWithContext(ctx)
}

// Close drains the connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}

// NoOpPublisher discards events.
type NoOpPublisher struct{}

func (NoOpPublisher) Publish(context.Context, string, []byte) error { return nil }
func (NoOpPublisher) Close() error                                  { return nil }

// Emitter encodes events and hands them to a publisher.
type Emitter struct {
	pub EventPublisher
	now func() time.Time
}

// NewEmitter creates an emitter. A nil publisher discards events.
func NewEmitter(pub EventPublisher) *Emitter {
	if pub == nil {
		pub = NoOpPublisher{}
	}
	return &Emitter{pub: pub, now: time.Now}
}

func (e *Emitter) emit(ctx context.Context, subject string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	return e.pub.Publish(ctx, subject, data)
}

// EmitReport publishes the run summary and one event per flagged
// relationship in rep. Marked is the number of relationships marked
// validated by the run.
func (e *Emitter) EmitReport(ctx context.Context, rep *report.Report, marked int) error {
	ts := e.now().UTC()
	if err := e.emit(ctx, SubjectValidationCompleted, ValidationCompletedEvent{
		EventID:             uuid.NewString(),
		RunID:               rep.RunID,
		EntitySummary:       rep.EntitySummary,
		RelationshipSummary: rep.RelationshipSummary,
		Marked:              marked,
		Timestamp:           ts,
	}); err != nil {
		return err
	}
	for _, r := range rep.Relationships {
		if !r.ShouldFlagForReview {
			continue
		}
		if err := e.emit(ctx, SubjectRelationshipFlagged, RelationshipFlaggedEvent{
			EventID:        uuid.NewString(),
			RunID:          rep.RunID,
			RelationshipID: r.RelationshipID,
			SourcePaperID:  r.SourcePaperID,
			TargetPaperID:  r.TargetPaperID,
			Kind:           r.Kind,
			Confidence:     r.Confidence,
			IsValid:        r.IsValid,
			Issues:         r.Issues,
			Timestamp:      ts,
		}); err != nil {
			return err
		}
	}
	return nil
}

// EmitStage publishes a batch completion event.
func (e *Emitter) EmitStage(ctx context.Context, stage string, total, succeeded, failed int, elapsed time.Duration) error {
	return e.emit(ctx, SubjectStageCompleted, StageCompletedEvent{
		EventID:    uuid.NewString(),
		Stage:      stage,
		Total:      total,
		Succeeded:  succeeded,
		Failed:     failed,
		DurationMs: elapsed.Milliseconds(),
		Timestamp:  e.now().UTC(),
	})
}

// Close closes the publisher.
func (e *Emitter) Close() error {
	return e.pub.Close()
}
