package queue

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// declarer is the part of *amqp.Channel used to declare queues.
type declarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
}

// Declare creates the work, retry and parking queues of p.  All are durable
// and declaration is idempotent.  There is one retry queue per failed
// attempt, with the backoff for that attempt as its x-message-ttl.  Retry
// queues have no consumer: expired messages are dead-lettered through the
// default exchange back into the work queue.
func Declare(ch declarer, p Policy) error {
	if _, err := ch.QueueDeclare(p.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", p.Queue, err)
	}
	for attempt := 1; attempt < p.Attempts; attempt++ {
		name := p.RetryQueue(attempt)
		if _, err := ch.QueueDeclare(name, true, false, false, false, amqp.Table{
			"x-message-ttl":             int32(p.Backoff(attempt).Milliseconds()),
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": p.Queue,
		}); err != nil {
			return fmt.Errorf("declare %s: %w", name, err)
		}
	}
	var failedArgs amqp.Table
	if p.Retention > 0 {
		failedArgs = amqp.Table{"x-max-length": int32(p.Retention)}
	}
	if _, err := ch.QueueDeclare(p.FailedQueue(), true, false, false, false, failedArgs); err != nil {
		return fmt.Errorf("declare %s: %w", p.FailedQueue(), err)
	}
	return nil
}
