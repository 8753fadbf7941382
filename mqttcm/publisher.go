package mqttcm

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"go.ntppool.org/srvmon/client/description"
)

const publishQueueSize = 256

// Client is the part of the connection manager the publisher uses.
type Client interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Publisher sends every description change as a retained message on the
// server's topic. Changes are queued so a slow broker doesn't hold up
// scans; when the queue is full changes are dropped.
type Publisher struct {
	client Client
	topics *MQTTTopics
	name   string
	log    *slog.Logger
	queue  chan description.Description
}

func NewPublisher(log *slog.Logger, client Client, topics *MQTTTopics, name string) *Publisher {
	return &Publisher{
		client: client,
		topics: topics,
		name:   name,
		log:    log,
		queue:  make(chan description.Description, publishQueueSize),
	}
}

// DescriptionChanged implements inspector.Listener.
func (p *Publisher) DescriptionChanged(ctx context.Context, _, current description.Description) {
	select {
	case p.queue <- current:
	default:
		p.log.WarnContext(ctx, "mqtt publish queue full, dropping update", "address", current.Address().String())
	}
}

// Run publishes queued changes until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-p.queue:
			if err := p.publish(ctx, d); err != nil {
				p.log.WarnContext(ctx, "mqtt publish", "address", d.Address().String(), "err", err)
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, d description.Description) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err = p.client.Publish(ctx, &paho.Publish{
		Topic:   p.topics.Server(p.name, d.Address()),
		Payload: payload,
		QoS:     0,
		Retain:  true,
	})
	return err
}

// Clear removes the retained message for a server that's no longer
// monitored.
func (p *Publisher) Clear(ctx context.Context, addr description.Address) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := p.client.Publish(ctx, &paho.Publish{
		Topic:   p.topics.Server(p.name, addr),
		Payload: []byte{},
		QoS:     0,
		Retain:  true,
	})
	return err
}
