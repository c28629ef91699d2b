package sbutil

import (
	"context"
	"errors"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus/admin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdmin struct {
	queues  map[string]bool
	topics  map[string]bool
	subs    map[string]bool
	created []string
	getErr  error
}

func newFakeAdmin() *fakeAdmin {
	return &fakeAdmin{queues: map[string]bool{}, topics: map[string]bool{}, subs: map[string]bool{}}
}

func (f *fakeAdmin) GetQueue(_ context.Context, name string, _ *admin.GetQueueOptions) (*admin.GetQueueResponse, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.queues[name] {
		return &admin.GetQueueResponse{QueueName: name}, nil
	}
	return nil, nil
}

func (f *fakeAdmin) CreateQueue(_ context.Context, name string, _ *admin.CreateQueueOptions) (admin.CreateQueueResponse, error) {
	f.queues[name] = true
	f.created = append(f.created, "queue:"+name)
	return admin.CreateQueueResponse{QueueName: name}, nil
}

func (f *fakeAdmin) GetTopic(_ context.Context, name string, _ *admin.GetTopicOptions) (*admin.GetTopicResponse, error) {
	if f.topics[name] {
		return &admin.GetTopicResponse{TopicName: name}, nil
	}
	return nil, nil
}

func (f *fakeAdmin) CreateTopic(_ context.Context, name string, _ *admin.CreateTopicOptions) (admin.CreateTopicResponse, error) {
	f.topics[name] = true
	f.created = append(f.created, "topic:"+name)
	return admin.CreateTopicResponse{TopicName: name}, nil
}

func (f *fakeAdmin) GetSubscription(_ context.Context, topic, name string, _ *admin.GetSubscriptionOptions) (*admin.GetSubscriptionResponse, error) {
	if f.subs[topic+"/"+name] {
		return &admin.GetSubscriptionResponse{SubscriptionName: name}, nil
	}
	return nil, nil
}

func (f *fakeAdmin) CreateSubscription(_ context.Context, topic, name string, _ *admin.CreateSubscriptionOptions) (admin.CreateSubscriptionResponse, error) {
	f.subs[topic+"/"+name] = true
	f.created = append(f.created, "sub:"+topic+"/"+name)
	return admin.CreateSubscriptionResponse{SubscriptionName: name}, nil
}

func TestEnsureQueue(t *testing.T) {
	a := newFakeAdmin()
	require.NoError(t, EnsureQueue(context.Background(), a, "orders"))
	require.NoError(t, EnsureQueue(context.Background(), a, "orders"))
	assert.Equal(t, []string{"queue:orders"}, a.created)
}

func TestEnsureSubscription(t *testing.T) {
	a := newFakeAdmin()
	a.topics["events"] = true
	require.NoError(t, EnsureSubscription(context.Background(), a, "events", "billing"))
	assert.Equal(t, []string{"sub:events/billing"}, a.created)
}

func TestEnsureQueue_GetFailure(t *testing.T) {
	a := newFakeAdmin()
	a.getErr = errors.New("unauthorized")
	require.ErrorIs(t, EnsureQueue(context.Background(), a, "orders"), a.getErr)
	assert.Empty(t, a.created)
}
