// Package access is the typed client for the access-control service.
package access

import (
	"context"

	"github.com/morezero/contracts-gateway/pkg/principal"
	"github.com/morezero/contracts-gateway/pkg/schema"
	"github.com/morezero/contracts-gateway/pkg/services"
	"github.com/morezero/contracts-gateway/pkg/stub"
)

// Method names.
const (
	MethodHasAccess     = "hasAccess"
	MethodSubscribeUser = "subscribeUser"
)

// Client calls the access-control service.
type Client struct {
	stub *stub.Stub
}

// New wraps a stub built for the access service.
func New(s *stub.Stub) (*Client, error) {
	if err := services.CheckContract(s.Service(), schema.AccessService()); err != nil {
		return nil, err
	}
	return &Client{stub: s}, nil
}

// HasAccess reports whether user is subscribed to resource.
func (c *Client) HasAccess(ctx context.Context, user principal.Principal, resource string) (bool, error) {
	vals, err := c.stub.Call(ctx, MethodHasAccess, user, resource)
	if err != nil {
		return false, err
	}
	return vals[0].(bool), nil
}

// SubscribeUser subscribes user to every resource key. This is an update call and
// is not retried unless the dispatcher was configured to retry updates.
func (c *Client) SubscribeUser(ctx context.Context, user principal.Principal, resources []string) error {
	if resources == nil {
		resources = []string{}
	}
	_, err := c.stub.Call(ctx, MethodSubscribeUser, user, resources)
	return err
}
