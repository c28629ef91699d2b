// Package destination names the target of a send or receive.
package destination

import (
	"context"
	"fmt"
)

// Destination is a queue, a topic and subscription, or an event hub and
// consumer group. Group is empty for plain queues.
type Destination struct {
	Name  string `koanf:"name" yaml:"name"`
	Group string `koanf:"group" yaml:"group"`
}

func (d Destination) String() string {
	if d.Group == "" {
		return d.Name
	}
	return d.Name + "/" + d.Group
}

// Provisioner creates or validates a destination before it is used.
type Provisioner interface {
	Provision(ctx context.Context, d Destination) error
}

// ProvisioningError is fatal to adapter start.
type ProvisioningError struct {
	Destination Destination
	Err         error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provision %s: %v", e.Destination, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// Provision runs p when it is non-nil and wraps its failure.
func Provision(ctx context.Context, p Provisioner, d Destination) error {
	if p == nil {
		return nil
	}
	if err := p.Provision(ctx, d); err != nil {
		return &ProvisioningError{Destination: d, Err: err}
	}
	return nil
}
