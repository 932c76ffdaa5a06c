package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mandatesync/internal/types"
)

const testQueueURL = "https://sqs.eu-west-1.amazonaws.com/123/mandate-notifications"

// mockSQSSender records all SendMessage calls for verification.
type mockSQSSender struct {
	calls     []*sqs.SendMessageInput
	returnErr error
}

func (m *mockSQSSender) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &sqs.SendMessageOutput{}, nil
}

func failedNotification() types.MandateNotification {
	return types.MandateNotification{
		CustomerID: "cust_1",
		Status:     types.MandateStatusFailed,
		Reason:     "The IBAN is invalid.",
		EventID:    "evt_1",
		EventType:  "setup_intent.setup_failed",
		OccurredAt: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}
}

func TestMandatePublisher_Sends(t *testing.T) {
	sender := &mockSQSSender{}
	pub := NewMandatePublisher(sender, testQueueURL, nil)
	pub.newID = func() string { return "notif_fixed" }

	ctx := types.WithRequestID(context.Background(), "req-42")
	require.NoError(t, pub.NotifyMandateFailed(ctx, failedNotification()))
	require.Len(t, sender.calls, 1)

	in := sender.calls[0]
	assert.Equal(t, testQueueURL, *in.QueueUrl)
	assert.Equal(t, "evt_1", *in.MessageAttributes["event_id"].StringValue)
	assert.Equal(t, "failed", *in.MessageAttributes["status"].StringValue)

	var sent types.MandateNotification
	require.NoError(t, json.Unmarshal([]byte(*in.MessageBody), &sent))
	assert.Equal(t, "notif_fixed", sent.NotificationID)
	assert.Equal(t, "req-42", sent.TraceID)
	assert.Equal(t, "cust_1", sent.CustomerID)
	assert.Equal(t, types.MandateStatusFailed, sent.Status)
	assert.Equal(t, "The IBAN is invalid.", sent.Reason)
}

func TestMandatePublisher_KeepsExistingIDs(t *testing.T) {
	sender := &mockSQSSender{}
	pub := NewMandatePublisher(sender, testQueueURL, nil)

	n := failedNotification()
	n.NotificationID = "notif_given"
	n.TraceID = "trace_given"
	require.NoError(t, pub.NotifyMandateFailed(context.Background(), n))

	var sent types.MandateNotification
	require.NoError(t, json.Unmarshal([]byte(*sender.calls[0].MessageBody), &sent))
	assert.Equal(t, "notif_given", sent.NotificationID)
	assert.Equal(t, "trace_given", sent.TraceID)
}

func TestMandatePublisher_GeneratesUUID(t *testing.T) {
	sender := &mockSQSSender{}
	pub := NewMandatePublisher(sender, testQueueURL, nil)

	require.NoError(t, pub.NotifyMandateFailed(context.Background(), failedNotification()))

	var sent types.MandateNotification
	require.NoError(t, json.Unmarshal([]byte(*sender.calls[0].MessageBody), &sent))
	assert.Len(t, sent.NotificationID, 36)
}

func TestMandatePublisher_SendError(t *testing.T) {
	sender := &mockSQSSender{returnErr: errors.New("AccessDenied")}
	pub := NewMandatePublisher(sender, testQueueURL, nil)

	err := pub.NotifyMandateFailed(context.Background(), failedNotification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDenied")
	assert.Contains(t, err.Error(), testQueueURL)
}
