package rpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"

	"github.com/example/emailservice/internal/models"
)

// Client calls a remote hipstershop.EmailService.
type Client struct {
	conn   grpc.ClientConnInterface
	schema *Schema
}

// NewClient wraps an established connection.
func NewClient(conn grpc.ClientConnInterface) (*Client, error) {
	if conn == nil {
		return nil, errors.New("rpc: client connection is required")
	}
	schema, err := LoadSchema()
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, schema: schema}, nil
}

// SendOrderConfirmation asks the remote service to mail a confirmation for
// req.Order to req.Email. Failures are returned as gRPC status errors.
func (c *Client) SendOrderConfirmation(ctx context.Context, req *models.ConfirmationRequest, opts ...grpc.CallOption) error {
	in, err := c.schema.EncodeRequest(req)
	if err != nil {
		return err
	}
	return c.conn.Invoke(ctx, SendOrderConfirmationMethod, in, c.schema.NewResponse(), opts...)
}
