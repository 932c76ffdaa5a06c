// Package notifications publishes mandate failure messages for the email
// dispatcher. Delivery to the customer is the dispatcher's job; this package
// only puts a message on the queue.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"mandatesync/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// MandatePublisher sends MandateNotifications to the notifications queue.
type MandatePublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
	newID    func() string
}

// NewMandatePublisher creates a MandatePublisher targeting queueURL.
func NewMandatePublisher(client SQSSender, queueURL string, logger *slog.Logger) *MandatePublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &MandatePublisher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
		newID:    func() string { return uuid.NewString() },
	}
}

// NotifyMandateFailed assigns the notification id and trace id, then sends
// the message. The event id is carried as a message attribute so the
// dispatcher can drop redeliveries without parsing the body.
func (p *MandatePublisher) NotifyMandateFailed(ctx context.Context, n types.MandateNotification) error {
	if n.NotificationID == "" {
		n.NotificationID = p.newID()
	}
	if n.TraceID == "" {
		n.TraceID = types.GetRequestID(ctx)
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("mandate publisher: failed to marshal notification: %w", err)
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"event_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(n.EventID),
			},
			"status": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(n.Status)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("mandate publisher: failed to send message to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "mandate notification published",
		"notification_id", n.NotificationID,
		"customer_id", n.CustomerID,
		"event_id", n.EventID,
		"trace_id", n.TraceID,
	)
	return nil
}
