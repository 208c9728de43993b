// Package ingest is the durable producer path: services that must not lose
// an enqueue on restart publish jobs to SQS instead of calling the REST API,
// and this consumer feeds them into the dispatch queue.
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/nbhatti/whatsapi-bridge-sub002/internal/domain"
)

// EnqueueJob is the SQS message body; the same field names the REST enqueue
// endpoint accepts.
type EnqueueJob struct {
	DeviceID string                  `json:"deviceId"`
	To       string                  `json:"to"`
	Kind     domain.MessageKind      `json:"kind"`
	Text     string                  `json:"text,omitempty"`
	Media    *domain.MediaPayload    `json:"media,omitempty"`
	Location *domain.LocationPayload `json:"location,omitempty"`
	Priority domain.Priority         `json:"priority,omitempty"`
	Options  domain.SendOptions      `json:"options,omitempty"`
}

// Request maps the job onto the queue's enqueue request.
func (j EnqueueJob) Request() domain.EnqueueRequest {
	return domain.EnqueueRequest{
		DeviceID: j.DeviceID,
		To:       j.To,
		Kind:     j.Kind,
		Text:     j.Text,
		Media:    j.Media,
		Location: j.Location,
		Priority: j.Priority,
		Options:  j.Options,
	}
}

// Enqueuer is what the consumer needs from the dispatcher.
type Enqueuer interface {
	Enqueue(req domain.EnqueueRequest) (domain.QueuedMessage, error)
}

type Consumer struct {
	SQS      *sqs.Client
	QueueURL string
	Target   Enqueuer

	WaitTimeSeconds   int32
	MaxMessages       int32
	VisibilityTimeout int32
}

// Poll long-polls until ctx is cancelled. Undecodable bodies and jobs that
// fail validation are poison: they are deleted rather than redriven, since
// no retry can make them valid. Only infrastructure errors leave the message
// on the queue.
func (c *Consumer) Poll(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		out, err := c.SQS.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            &c.QueueURL,
			MaxNumberOfMessages: c.MaxMessages,
			WaitTimeSeconds:     c.WaitTimeSeconds,
			VisibilityTimeout:   c.VisibilityTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("sqs receive failed", "err", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, m := range out.Messages {
			if m.Body == nil {
				c.delete(ctx, m.ReceiptHandle)
				continue
			}
			var job EnqueueJob
			if err := json.Unmarshal([]byte(*m.Body), &job); err != nil {
				slog.Warn("sqs job undecodable, dropping", "err", err)
				c.delete(ctx, m.ReceiptHandle)
				continue
			}

			msg, err := c.Target.Enqueue(job.Request())
			switch {
			case err == nil:
				slog.Info("sqs job enqueued", "message_id", msg.ID, "device", msg.DeviceID)
				c.delete(ctx, m.ReceiptHandle)
			case domain.IsValidation(err):
				slog.Warn("sqs job invalid, dropping", "err", err, "device", job.DeviceID)
				c.delete(ctx, m.ReceiptHandle)
			default:
				// leave on queue for redrive
				slog.Error("sqs job enqueue failed", "err", err)
			}
		}
	}
}

func (c *Consumer) delete(ctx context.Context, receipt *string) {
	_, _ = c.SQS.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &c.QueueURL,
		ReceiptHandle: receipt,
	})
}
