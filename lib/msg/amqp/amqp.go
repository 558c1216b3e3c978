// Package amqp implements the message broker interface for AMQP compliant brokers (ie RabbitMQ)
package amqp

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/tarancss/stakewatch/lib/msg"
	"github.com/tarancss/stakewatch/lib/msg/types"
)

// Amqp implements a connection to a broker and a channel for reuse.
type Amqp struct {
	conn *amqp.Connection
	mu   sync.Mutex // guards ch
	ch   *amqp.Channel
	log  *logrus.Entry
}

// New instantiates a new amqp broker.
func New(uri string, log *logrus.Entry) (*Amqp, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to broker: %w", err)
	}

	log.Info("connected to message broker")

	return &Amqp{conn: conn, log: log}, nil
}

// Setup obtains an amqp channel and declares the message broker exchange:
//
// - be ("balance events"): the explorer publishes balance changes to this exchange
func (r *Amqp) Setup(x interface{}) error {
	// obtain a one-use channel
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()

	return channel.ExchangeDeclare(msg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil)
}

// Close terminates gracefully the connection to the AMQP message broker
func (r *Amqp) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			r.log.WithError(err).Warn("error closing amqp channel")
		}

		r.ch = nil
	}

	return r.conn.Close()
}

func (r *Amqp) channel() (*amqp.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// obtain channel if not present
	if r.ch == nil {
		ch, err := r.conn.Channel()
		if err != nil {
			return nil, err
		}

		r.ch = ch
	}

	return r.ch, nil
}

// SendEvent publishes a balance event to the "be" exchange
func (r *Amqp) SendEvent(e types.BalanceEvent) error {
	// marshal to JSON
	jsonDoc, err := json.Marshal(e)
	if err != nil {
		return err
	}

	ch, err := r.channel()
	if err != nil {
		return err
	}
	// build body
	m := amqp.Publishing{
		Headers:     amqp.Table{"x-event-id": e.ID},
		Body:        jsonDoc,
		ContentType: "application/json",
	}

	if err = ch.Publish(msg.Exchange, msg.Key(e.Address), false, false, m); err != nil {
		// a closed channel is reopened on the next event
		r.mu.Lock()
		r.ch = nil
		r.mu.Unlock()

		return fmt.Errorf("cannot publish balance event: %w", err)
	}

	return nil
}

// GetEvents consumes balance events from the "be" exchange through queue, pushing them to the returned channel.
// Messages are acknowledged once decoded.
func (r *Amqp) GetEvents(queue string) (<-chan types.BalanceEvent, <-chan error, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, nil, err
	}
	// declare queue and bind it to the exchange
	if _, err = ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, nil, err
	}

	if err = ch.QueueBind(queue, msg.Key("*"), msg.Exchange, false, nil); err != nil {
		return nil, nil, err
	}

	msgs, err := ch.Consume(queue, "stakewatch-"+queue, false, false, false, false, nil)
	if err != nil {
		return nil, nil, err
	}

	eves := make(chan types.BalanceEvent)
	errs := make(chan error, errsBuffer)

	go r.consume(msgs, eves, errs)

	return eves, errs, nil
}

const errsBuffer = 16

// consume decodes deliveries until msgs is closed, then closes eves and errs. Decode errors are dropped once errs is
// full so a caller only reading eves never stalls the consumer.
func (r *Amqp) consume(msgs <-chan amqp.Delivery, eves chan<- types.BalanceEvent, errs chan<- error) {
	defer close(errs)
	defer close(eves)

	for m := range msgs {
		var e types.BalanceEvent
		if err := json.Unmarshal(m.Body, &e); err != nil {
			if nerr := m.Nack(false, false); nerr != nil {
				r.log.WithError(nerr).Warn("cannot nack balance event")
			}

			select {
			case errs <- fmt.Errorf("cannot decode balance event: %w", err):
			default:
				r.log.WithError(err).Warn("dropped balance event decode error")
			}

			continue
		}

		eves <- e

		if err := m.Ack(false); err != nil {
			r.log.WithError(err).Warn("cannot ack balance event")
		}
	}
}

var _ msg.MsgBroker = (*Amqp)(nil)
