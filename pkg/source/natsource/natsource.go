// Package natsource implements a queue-poll Source backed by a NATS subject.
// Items are the raw message payloads.
package natsource

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultWait bounds how long a poll waits for a message before reporting
// empty. It is deliberately tiny: the Source contract is "return Empty
// promptly", and the producer's scheduler owns the retry cadence.
const DefaultWait = 5 * time.Millisecond

// Options configures a Source.
type Options struct {
	// Subject to subscribe to. Required.
	Subject string
	// Queue joins a queue group so multiple processes share the subject.
	Queue string
	// Wait overrides DefaultWait.
	Wait time.Duration
}

// Source pulls messages from a synchronous NATS subscription.
type Source struct {
	conn *nats.Conn
	sub  *nats.Subscription
	wait time.Duration
}

// New connects to a NATS server and subscribes to the configured subject.
func New(url string, opts Options) (*Source, error) {
	if opts.Subject == "" {
		return nil, fmt.Errorf("natsource: subject is required")
	}
	if opts.Wait <= 0 {
		opts.Wait = DefaultWait
	}

	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("natsource: connect %s: %w", url, err)
	}

	var sub *nats.Subscription
	if opts.Queue != "" {
		sub, err = conn.QueueSubscribeSync(opts.Subject, opts.Queue)
	} else {
		sub, err = conn.SubscribeSync(opts.Subject)
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("natsource: subscribe %s: %w", opts.Subject, err)
	}

	return &Source{conn: conn, sub: sub, wait: opts.Wait}, nil
}

// TryNext returns the next buffered message payload, or empty when none
// arrives within the poll window.
func (s *Source) TryNext() (interface{}, bool, error) {
	msg, err := s.sub.NextMsg(s.wait)
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("natsource: next message: %w", err)
	}
	return msg.Data, true, nil
}

// Close unsubscribes and closes the connection.
func (s *Source) Close() error {
	err := s.sub.Unsubscribe()
	s.conn.Close()
	return err
}
