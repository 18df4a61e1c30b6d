package rpc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/example/emailservice/internal/models"
	"github.com/example/emailservice/internal/rpc"
)

func TestSchemaDescribesEmailService(t *testing.T) {
	schema, err := rpc.LoadSchema()
	require.NoError(t, err)

	svc := schema.File.Services().ByName("EmailService")
	require.NotNil(t, svc)
	assert.Equal(t, rpc.ServiceName, string(svc.FullName()))

	method := svc.Methods().ByName("SendOrderConfirmation")
	require.NotNil(t, method)
	assert.Equal(t, schema.Request.FullName(), method.Input().FullName())
	assert.Equal(t, "hipstershop.Empty", string(method.Output().FullName()))
}

func TestDecodeRequestFromWireBytes(t *testing.T) {
	schema, err := rpc.LoadSchema()
	require.NoError(t, err)

	// Money{currency_code: "EUR", units: 3000000000, nanos: 500000000}
	var money []byte
	money = protowire.AppendTag(money, 1, protowire.BytesType)
	money = protowire.AppendString(money, "EUR")
	money = protowire.AppendTag(money, 2, protowire.VarintType)
	money = protowire.AppendVarint(money, 3_000_000_000)
	money = protowire.AppendTag(money, 3, protowire.VarintType)
	money = protowire.AppendVarint(money, 500_000_000)

	// OrderResult{order_id: "ORDER-9", shipping_cost: money}
	var order []byte
	order = protowire.AppendTag(order, 1, protowire.BytesType)
	order = protowire.AppendString(order, "ORDER-9")
	order = protowire.AppendTag(order, 3, protowire.BytesType)
	order = protowire.AppendBytes(order, money)

	var wire []byte
	wire = protowire.AppendTag(wire, 1, protowire.BytesType)
	wire = protowire.AppendString(wire, "buyer@example.com")
	wire = protowire.AppendTag(wire, 2, protowire.BytesType)
	wire = protowire.AppendBytes(wire, order)

	msg := dynamicpb.NewMessage(schema.Request)
	require.NoError(t, proto.Unmarshal(wire, msg))

	req, err := schema.DecodeRequest(msg)
	require.NoError(t, err)

	assert.Equal(t, "buyer@example.com", req.Email)
	require.NotNil(t, req.Order)
	assert.Equal(t, "ORDER-9", req.Order.OrderID)
	assert.Equal(t, &models.Money{CurrencyCode: "EUR", Units: 3_000_000_000, Nanos: 500_000_000}, req.Order.ShippingCost)
	assert.Nil(t, req.Order.ShippingAddress, "absent sub-messages must stay nil")
	assert.Empty(t, req.Order.Items)
}

func TestEncodeRequestKeepsFieldNumbers(t *testing.T) {
	schema, err := rpc.LoadSchema()
	require.NoError(t, err)

	msg, err := schema.EncodeRequest(&models.ConfirmationRequest{
		Email: "buyer@example.com",
		Order: &models.Order{OrderID: "ORDER-1"},
	})
	require.NoError(t, err)

	wire, err := proto.MarshalOptions{Deterministic: true}.Marshal(msg)
	require.NoError(t, err)

	num, typ, n := protowire.ConsumeTag(wire)
	require.Greater(t, n, 0)
	assert.Equal(t, protowire.Number(1), num)
	assert.Equal(t, protowire.BytesType, typ)
	email, m := protowire.ConsumeString(wire[n:])
	require.Greater(t, m, 0)
	assert.Equal(t, "buyer@example.com", email)

	num, _, _ = protowire.ConsumeTag(wire[n+m:])
	assert.Equal(t, protowire.Number(2), num)
}

func TestDecodeRequestRejectsForeignMessage(t *testing.T) {
	schema, err := rpc.LoadSchema()
	require.NoError(t, err)

	_, err = schema.DecodeRequest(schema.NewResponse())
	assert.Error(t, err)
	_, err = schema.DecodeRequest(nil)
	assert.Error(t, err)
}

func TestParseOrderJSON(t *testing.T) {
	schema, err := rpc.LoadSchema()
	require.NoError(t, err)

	order, err := schema.ParseOrderJSON([]byte(`{
		"orderId": "ORDER-5",
		"shipping_cost": {"currencyCode": "USD", "units": 8, "nanos": 990000000},
		"items": [{"item": {"productId": "OLJCESPC7Z", "quantity": 2}, "cost": {"currency_code": "USD", "units": "16"}}]
	}`))
	require.NoError(t, err)

	assert.Equal(t, "ORDER-5", order.OrderID)
	assert.Equal(t, int64(8), order.ShippingCost.Units)
	require.Len(t, order.Items, 1)
	assert.Equal(t, int32(2), order.Items[0].Item.Quantity)
	assert.Equal(t, int64(16), order.Items[0].Cost.Units)

	_, err = schema.ParseOrderJSON([]byte(`{"unknown_field": 1}`))
	assert.Error(t, err)
}
