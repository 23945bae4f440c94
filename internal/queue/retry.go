package queue

import (
	"github.com/OFFIS-RIT/depparse/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const (
	MaxRetries    = 10
	retriesHeader = "x-retries"
)

// retryCount reads the retry counter of a delivery. Depending on the client
// that wrote it the header arrives with different integer widths.
func retryCount(headers amqp091.Table) int {
	switch v := headers[retriesHeader].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}

// HandleProcessingError sends a failed message to the retry queue of
// queueName, or to its dead-letter queue once it was retried MaxRetries
// times. It reports whether the message was dead-lettered.
func HandleProcessingError(ch Channel, msg amqp091.Delivery, queueName string) bool {
	retries := retryCount(msg.Headers)
	if retries >= MaxRetries {
		DeadLetter(ch, msg, queueName)
		return true
	}

	retryName := queueName + "_retry"
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[retriesHeader] = int32(retries + 1)

	pubErr := ch.Publish(
		"",
		retryName,
		false,
		false,
		amqp091.Publishing{
			ContentType: msg.ContentType,
			Body:        msg.Body,
			Headers:     headers,
		},
	)
	if pubErr != nil {
		logger.Error("[Queue] Failed to publish to retry queue", "retry_queue", retryName, "err", pubErr)
		msg.Nack(false, true)
		return false
	}
	msg.Ack(false)
	return false
}

// DeadLetter moves a message to the dead-letter queue of queueName.
func DeadLetter(ch Channel, msg amqp091.Delivery, queueName string) {
	dlqName := queueName + "_dlq"
	logger.Info("[Queue] Sending message to DLQ", "dlq", dlqName)
	pubErr := ch.Publish(
		"",
		dlqName,
		false,
		false,
		amqp091.Publishing{
			ContentType: msg.ContentType,
			Body:        msg.Body,
			Headers:     msg.Headers,
		},
	)
	if pubErr != nil {
		logger.Error("[Queue] Failed to publish to DLQ", "dlq", dlqName, "err", pubErr)
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
}
