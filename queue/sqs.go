package queue

import (
	"context"
	"log"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	raven "github.com/getsentry/raven-go"
)

// SQS is a Queue backed by Amazon SQS (or a compatible endpoint). Queue
// URLs are resolved once per name and cached for the life of the client.
type SQS struct {
	svc *sqs.SQS

	m    sync.Mutex
	urls map[string]string
}

var _ Queue = &SQS{}

// NewSQS creates an SQS queue client using the credentials and endpoint in
// the given session.
func NewSQS(awsSession *session.Session) *SQS {
	return &SQS{
		svc:  sqs.New(awsSession),
		urls: make(map[string]string),
	}
}

// Enqueue submits body to the named queue.
func (q *SQS) Enqueue(ctx context.Context, queueName string, body []byte) error {
	url, err := q.queueURL(ctx, queueName)
	if err != nil {
		log.Println("SQS resolve:", queueName, err)
		raven.CaptureError(err, map[string]string{"Queue": queueName})
		return err
	}
	_, err = q.svc.SendMessageWithContext(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		log.Println("SQS send:", queueName, err)
		raven.CaptureError(err, map[string]string{"Queue": queueName})
	}
	return err
}

func (q *SQS) queueURL(ctx context.Context, queueName string) (string, error) {
	q.m.Lock()
	url, ok := q.urls[queueName]
	q.m.Unlock()
	if ok {
		return url, nil
	}
	output, err := q.svc.GetQueueUrlWithContext(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(queueName),
	})
	if err != nil {
		return "", err
	}
	url = aws.StringValue(output.QueueUrl)
	q.m.Lock()
	q.urls[queueName] = url
	q.m.Unlock()
	return url, nil
}
