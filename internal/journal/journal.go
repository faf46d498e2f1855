// Package journal mirrors tool-call lifecycle events to a Kafka topic
// for off-box audit trails. Delivery is best effort: a broker outage
// must never fail or delay a tool call.
package journal

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ToolGate/ToolGate/internal/scheduler"
)

// Event is one lifecycle transition as written to the topic.
type Event struct {
	CallID    string    `json:"call_id"`
	Tool      string    `json:"tool"`
	Status    string    `json:"status"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
	PID       int       `json:"pid,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	maxRetries   = 3
	writeTimeout = 5 * time.Second
)

type Journal struct {
	w *kafka.Writer
}

func New(brokers []string, topic string) *Journal {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireOne,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}
	return &Journal{w: w}
}

func (j *Journal) Close() error {
	return j.w.Close()
}

// Record writes one event, retrying with linear backoff. The last
// error is returned after the retries are exhausted.
func (j *Journal) Record(ctx context.Context, ev Event) error {
	msg, err := newMessage(ev)
	if err != nil {
		return err
	}
	var writeErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
		}
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		writeErr = j.w.WriteMessages(wctx, msg)
		cancel()
		if writeErr == nil {
			return nil
		}
	}
	return writeErr
}

// Observer adapts the journal to the scheduler's state observer hook.
// Events are written in the background so a slow broker never blocks
// call processing; failures are logged and dropped.
func (j *Journal) Observer() scheduler.Observer {
	return func(call scheduler.ToolCall) {
		ev := eventFor(call)
		go func() {
			if err := j.Record(context.Background(), ev); err != nil {
				slog.Warn("journal write failed", "call_id", ev.CallID, "status", ev.Status, "error", err)
			}
		}()
	}
}

func eventFor(call scheduler.ToolCall) Event {
	ev := Event{
		CallID:    call.Request.CallID,
		Tool:      call.Request.Tool,
		Status:    string(call.Status),
		PID:       call.PID,
		Timestamp: time.Now(),
	}
	if call.Response != nil {
		ev.ErrorKind = string(call.Response.ErrorKind)
		ev.Error = call.Response.Error
	}
	return ev
}

func newMessage(ev Event) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(ev.CallID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(ev.Status)},
		},
		Time: ev.Timestamp,
	}, nil
}
