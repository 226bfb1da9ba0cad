package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/emandor/lemme_grader/internal/grading"
)

const DefaultSubject = "grading"

type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes selected events as JSON on <subject>.<event type>.
// Publish only buffers in the client, so Emit never waits on the network.
type NATSPublisher struct {
	pub     Publisher
	subject string
	types   map[grading.EventType]bool
	log     zerolog.Logger
}

// NewNATSPublisher publishes results, summaries and terminal signals unless
// other types are listed.
func NewNATSPublisher(pub Publisher, subject string, log zerolog.Logger, types ...grading.EventType) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	if len(types) == 0 {
		types = []grading.EventType{grading.EventResult, grading.EventSummary, grading.EventTerminal}
	}
	set := make(map[grading.EventType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return &NATSPublisher{pub: pub, subject: subject, types: set, log: log}
}

func (p *NATSPublisher) Emit(e grading.Event) {
	if !p.types[e.Type] {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		p.log.Error().Err(err).Str("type", string(e.Type)).Msg("nats_encode_failed")
		return
	}
	subject := p.subject + "." + string(e.Type)
	if err := p.pub.Publish(subject, payload); err != nil {
		p.log.Warn().Err(err).Str("subject", subject).Msg("nats_publish_failed")
	}
}

// Connect dials NATS with reconnects enabled for the life of the process.
func Connect(url string, log zerolog.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("lemme_grader"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats_disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats_reconnected")
		}),
	)
}
