// Package events publishes NCIPlot run outcomes to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/insilichem/tangram-nciplot/internal/report"
)

// Config configures the Kafka publisher.
type Config struct {
	Brokers []string
	Topic   string
}

// Event is the JSON payload written for each finished run.
type Event struct {
	RunID       string        `json:"run_id"`
	Status      report.Status `json:"status"`
	Variant     string        `json:"variant,omitempty"`
	Geometry    []string      `json:"geometry,omitempty"`
	ExitCode    int           `json:"exit_code"`
	DurationMs  int64         `json:"duration_ms"`
	FailureKind string        `json:"failure_kind,omitempty"`
	Error       string        `json:"error,omitempty"`
	Rho         *float64      `json:"rho,omitempty"`
	RDG         *float64      `json:"rdg,omitempty"`
	GradCube    string        `json:"grad_cube,omitempty"`
	DensCube    string        `json:"dens_cube,omitempty"`
	XYData      string        `json:"xy_data,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// FromRecord builds the event for a finished run.
func FromRecord(rec *report.Record) Event {
	ev := Event{
		RunID:       rec.ID,
		Status:      rec.Status,
		Variant:     rec.Variant,
		Geometry:    rec.Geometry,
		ExitCode:    rec.ExitCode,
		DurationMs:  rec.Duration().Milliseconds(),
		FailureKind: rec.FailureKind,
		Error:       rec.Failure,
		Timestamp:   rec.FinishedAt.UTC(),
	}
	if res := rec.Result; res != nil {
		rho, rdg := res.Rho, res.RDG
		ev.Rho = &rho
		ev.RDG = &rdg
		ev.GradCube = res.GradCube
		ev.DensCube = res.DensCube
		ev.XYData = res.XYData
	}
	return ev
}

// Publisher writes run events to Kafka.
type Publisher struct {
	writer messageWriter
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// NewPublisher constructs a Publisher using the supplied configuration.
func NewPublisher(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker must be provided")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic must be provided")
	}

	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		AllowAutoTopicCreation: true,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
	}
	return newPublisher(writer), nil
}

func newPublisher(writer messageWriter) *Publisher {
	return &Publisher{writer: writer}
}

// Publish writes the event for rec, keyed by run ID.
func (p *Publisher) Publish(ctx context.Context, rec *report.Record) error {
	if p.writer == nil {
		return fmt.Errorf("publisher is not initialized")
	}

	payload, err := json.Marshal(FromRecord(rec))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafkago.Message{
		Key:   []byte(rec.ID),
		Value: payload,
		Time:  time.Now(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close releases the underlying Kafka writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// Nop discards every event. It is used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, *report.Record) error { return nil }

func (Nop) Close() error { return nil }
