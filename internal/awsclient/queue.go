package awsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/sh3r4rd/audit_data_requests/internal/model"
)

// SQSAPI is the subset of the SQS client used here.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Queue sends poll messages back to the data request queue and results
// ready messages to the email queue.
type Queue struct {
	client         SQSAPI
	requestQueue   string
	sendEmailQueue string
}

// NewQueue returns a Queue sending to the data request and email queues.
func NewQueue(client SQSAPI, requestQueueURL, sendEmailQueueURL string) *Queue {
	return &Queue{client: client, requestQueue: requestQueueURL, sendEmailQueue: sendEmailQueueURL}
}

// SchedulePoll enqueues msg for delivery after delay, capped at the queue's
// maximum delay.
func (q *Queue) SchedulePoll(ctx context.Context, msg model.ContinuePolling, delay time.Duration) error {
	return q.send(ctx, q.requestQueue, model.Envelope{Type: model.MessageContinuePolling, Poll: &msg}, delaySeconds(delay))
}

// NotifyResultsReady enqueues the results ready email.
func (q *Queue) NotifyResultsReady(ctx context.Context, msg model.ResultsReadyMessage) error {
	return q.send(ctx, q.sendEmailQueue, msg, 0)
}

func (q *Queue) send(ctx context.Context, url string, body any, delay int32) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(url),
		MessageBody:  aws.String(string(b)),
		DelaySeconds: delay,
	})
	if err != nil {
		return fmt.Errorf("send message to %s: %w", url, err)
	}
	return nil
}

func delaySeconds(d time.Duration) int32 {
	s := int64(d / time.Second)
	switch {
	case s < 0:
		return 0
	case s > model.MaxQueueDelaySeconds:
		return model.MaxQueueDelaySeconds
	}
	return int32(s)
}
