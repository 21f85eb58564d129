package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/slot-reservation/internal/model"
)

const publishBuffer = 1024

// Publisher sends slot events to the slot.events queue.  Publish only
// enqueues; a single goroutine owns the broker connection, redialing after
// failures.  When the buffer is full, events are dropped with a warning.
type Publisher struct {
	url string
	log *zap.Logger

	mu     sync.RWMutex
	closed bool
	events chan model.SlotEvent
	done   chan struct{}

	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher starts the publishing goroutine.  Call Close to flush and
// stop it.
func NewPublisher(url string, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Publisher{
		url:    url,
		log:    log,
		events: make(chan model.SlotEvent, publishBuffer),
		done:   make(chan struct{}),
	}
	go p.loop()
	return p
}

// Publish implements service.EventSink.  Events published after Close are
// dropped.
func (p *Publisher) Publish(_ context.Context, ev model.SlotEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.log.Debug("rabbitmq: publisher closed, dropping event", zap.String("type", ev.Type), zap.String("slot_id", ev.SlotID))
		return
	}
	select {
	case p.events <- ev:
	default:
		p.log.Warn("rabbitmq: event buffer full, dropping event", zap.String("type", ev.Type), zap.String("slot_id", ev.SlotID))
	}
}

// Close stops accepting events, publishes what is buffered and closes the
// broker connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.events)
	}
	p.mu.Unlock()
	<-p.done
}

func (p *Publisher) loop() {
	defer close(p.done)
	defer p.reset()
	for ev := range p.events {
		if err := p.send(ev); err != nil {
			p.log.Warn("rabbitmq: publish failed", zap.String("type", ev.Type), zap.String("slot_id", ev.SlotID), zap.Error(err))
			p.reset()
		}
	}
}

func (p *Publisher) send(ev model.SlotEvent) error {
	if err := p.ensureChannel(); err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.ch.PublishWithContext(ctx,
		"",              // default exchange
		SlotEventsQueue, // routing key = queue name
		false,           // mandatory
		false,           // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Type:         ev.Type,
			Body:         body,
		})
}

func (p *Publisher) ensureChannel() error {
	if p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	p.reset()
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("channel open: %w", err)
	}
	if _, err := ch.QueueDeclare(SlotEventsQueue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("queue declare: %w", err)
	}
	p.conn, p.ch = conn, ch
	return nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}
