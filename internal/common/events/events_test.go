package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSNS struct {
	inputs []*sns.PublishInput
	err    error
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSNSPublisher_Publish(t *testing.T) {
	client := &fakeSNS{}
	p := NewSNSPublisherWith(client, "arn:aws:sns:us-east-1:123:engine")

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	err := p.Publish(context.Background(), Event{
		Type:       TypeAnalysisCompleted,
		SubjectID:  "sub-1",
		OccurredAt: at,
		Payload:    map[string]interface{}{"score": 88},
	})
	require.NoError(t, err)
	require.Len(t, client.inputs, 1)

	in := client.inputs[0]
	assert.Equal(t, "arn:aws:sns:us-east-1:123:engine", aws.ToString(in.TopicArn))
	assert.Equal(t, TypeAnalysisCompleted, aws.ToString(in.MessageAttributes["eventType"].StringValue))
	assert.Equal(t, "sub-1", aws.ToString(in.MessageAttributes["subjectId"].StringValue))

	var decoded Event
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(in.Message)), &decoded))
	assert.Equal(t, at, decoded.OccurredAt)
	assert.Equal(t, "sub-1", decoded.SubjectID)
}

func TestSNSPublisher_StampsMissingTime(t *testing.T) {
	client := &fakeSNS{}
	p := NewSNSPublisherWith(client, "arn")
	require.NoError(t, p.Publish(context.Background(), Event{Type: TypeVendorDecision}))

	var decoded Event
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(client.inputs[0].Message)), &decoded))
	assert.False(t, decoded.OccurredAt.IsZero())
}

func TestSNSPublisher_Error(t *testing.T) {
	p := NewSNSPublisherWith(&fakeSNS{err: errors.New("throttled")}, "arn")
	err := p.Publish(context.Background(), Event{Type: TypeOnboardingTransitioned})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "onboarding.transitioned")
}

func TestNoopPublisher(t *testing.T) {
	assert.NoError(t, NoopPublisher{}.Publish(context.Background(), Event{}))
}
