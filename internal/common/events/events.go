// Package events publishes engine domain events. Publishing is best effort:
// callers log failures and never roll back the write that produced the event.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

const (
	TypeAnalysisCompleted      = "analysis.completed"
	TypeOnboardingTransitioned = "onboarding.transitioned"
	TypeVendorDecision         = "vendor.decision"
)

// Event is the envelope every engine event is published in.
type Event struct {
	Type       string      `json:"type"`
	SubjectID  string      `json:"subjectId"`
	OccurredAt time.Time   `json:"occurredAt"`
	Payload    interface{} `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// NoopPublisher drops every event. Used when no topic is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }

// SNSAPI is the subset of the SNS client the publisher needs.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSPublisher struct {
	client   SNSAPI
	topicARN string
}

// NewSNSPublisher loads the default AWS credential chain for region.
func NewSNSPublisher(ctx context.Context, region, topicARN string) (*SNSPublisher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSNSPublisherWith(sns.NewFromConfig(cfg), topicARN), nil
}

func NewSNSPublisherWith(client SNSAPI, topicARN string) *SNSPublisher {
	return &SNSPublisher{client: client, topicARN: topicARN}
}

// Publish sends evt as a JSON message. The event type and subject travel as
// message attributes so subscriptions can filter on them.
func (p *SNSPublisher) Publish(ctx context.Context, evt Event) error {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", evt.Type, err)
	}

	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"eventType": {DataType: aws.String("String"), StringValue: aws.String(evt.Type)},
			"subjectId": {DataType: aws.String("String"), StringValue: aws.String(evt.SubjectID)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s event: %w", evt.Type, err)
	}
	return nil
}
