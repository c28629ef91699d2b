// Package sbutil holds Service Bus helpers shared by the source and sink
// bindings.
package sbutil

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus/admin"
)

// Admin is the part of *admin.Client used for provisioning.
type Admin interface {
	GetQueue(ctx context.Context, name string, opts *admin.GetQueueOptions) (*admin.GetQueueResponse, error)
	CreateQueue(ctx context.Context, name string, opts *admin.CreateQueueOptions) (admin.CreateQueueResponse, error)
	GetTopic(ctx context.Context, name string, opts *admin.GetTopicOptions) (*admin.GetTopicResponse, error)
	CreateTopic(ctx context.Context, name string, opts *admin.CreateTopicOptions) (admin.CreateTopicResponse, error)
	GetSubscription(ctx context.Context, topic, name string, opts *admin.GetSubscriptionOptions) (*admin.GetSubscriptionResponse, error)
	CreateSubscription(ctx context.Context, topic, name string, opts *admin.CreateSubscriptionOptions) (admin.CreateSubscriptionResponse, error)
}

// EnsureQueue creates the queue when it does not exist. The admin client
// reports a missing entity as a nil response.
func EnsureQueue(ctx context.Context, a Admin, name string) error {
	q, err := a.GetQueue(ctx, name, nil)
	if err != nil {
		return fmt.Errorf("servicebus: get queue %s: %w", name, err)
	}
	if q != nil {
		return nil
	}
	if _, err := a.CreateQueue(ctx, name, nil); err != nil {
		return fmt.Errorf("servicebus: create queue %s: %w", name, err)
	}
	return nil
}

func EnsureTopic(ctx context.Context, a Admin, name string) error {
	tp, err := a.GetTopic(ctx, name, nil)
	if err != nil {
		return fmt.Errorf("servicebus: get topic %s: %w", name, err)
	}
	if tp != nil {
		return nil
	}
	if _, err := a.CreateTopic(ctx, name, nil); err != nil {
		return fmt.Errorf("servicebus: create topic %s: %w", name, err)
	}
	return nil
}

// EnsureSubscription creates the topic and then the subscription.
func EnsureSubscription(ctx context.Context, a Admin, topic, name string) error {
	if err := EnsureTopic(ctx, a, topic); err != nil {
		return err
	}
	s, err := a.GetSubscription(ctx, topic, name, nil)
	if err != nil {
		return fmt.Errorf("servicebus: get subscription %s/%s: %w", topic, name, err)
	}
	if s != nil {
		return nil
	}
	if _, err := a.CreateSubscription(ctx, topic, name, nil); err != nil {
		return fmt.Errorf("servicebus: create subscription %s/%s: %w", topic, name, err)
	}
	return nil
}
