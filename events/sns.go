package events

import (
	"context"
	"encoding/json"
	"fmt"

	"catalog-import-service/models"
)

// SNSPublisher is satisfied by the SNS client in pkg/aws.
type SNSPublisher interface {
	Publish(ctx context.Context, topicArn, eventType string, message []byte) error
}

// SNSSink publishes each event as one SNS message.
type SNSSink struct {
	client   SNSPublisher
	topicArn string
}

func NewSNSSink(client SNSPublisher, topicArn string) *SNSSink {
	return &SNSSink{client: client, topicArn: topicArn}
}

func (s *SNSSink) Publish(ctx context.Context, event models.ImportEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return s.client.Publish(ctx, s.topicArn, event.Type, data)
}

func (s *SNSSink) Close() error { return nil }
