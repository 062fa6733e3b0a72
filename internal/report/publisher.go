package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/signalsfoundry/nredf-scheduler/internal/logging"
)

// PublisherConfig selects the Kafka topic run reports are written to.
type PublisherConfig struct {
	Brokers []string
	Topic   string
	// Acks is the number of acknowledgements required; -1 waits for all
	// in-sync replicas.
	Acks    int
	Timeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var errNoWriter = errors.New("publisher requires a writer")

// Publisher writes finished run reports to Kafka, keyed by scenario name.
type Publisher struct {
	cfg    PublisherConfig
	writer messageWriter
	log    logging.Logger
}

// NewPublisher returns a Publisher backed by a kafka-go writer.
func NewPublisher(cfg PublisherConfig, log logging.Logger) (*Publisher, error) {
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic must not be empty")
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		RequiredAcks:           kafka.RequiredAcks(cfg.Acks),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: false,
	}
	return newPublisherWithWriter(cfg, w, log)
}

func newPublisherWithWriter(cfg PublisherConfig, w messageWriter, log logging.Logger) (*Publisher, error) {
	if w == nil {
		return nil, errNoWriter
	}
	if log == nil {
		log = logging.Noop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Publisher{
		cfg:    cfg,
		writer: w,
		log:    log.With(logging.String("component", "report_publisher"), logging.String("topic", cfg.Topic)),
	}, nil
}

// Publish writes one report and waits for the broker acknowledgement.
func (p *Publisher) Publish(ctx context.Context, r Report) error {
	value, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(r.Name),
		Value: value,
		Time:  r.GeneratedAt,
		Headers: []kafka.Header{
			{Key: "schema", Value: []byte(r.SchemaVersion)},
		},
	}
	if r.RunID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "run_id", Value: []byte(r.RunID)})
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Warn(ctx, "publish failed", logging.String("run", r.Name), logging.Error(err))
		return fmt.Errorf("publish report: %w", err)
	}
	p.log.Debug(ctx, "report published", logging.String("run", r.Name), logging.Int("bytes", len(value)))
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
