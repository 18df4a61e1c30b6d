package rpc

import (
	"encoding/json"
	"fmt"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/example/emailservice/internal/models"
)

// Wire names of the email service contract.
const (
	ProtoFile    = "demo.proto"
	ProtoPackage = "hipstershop"
	ServiceName  = "hipstershop.EmailService"

	SendOrderConfirmationMethod = "/hipstershop.EmailService/SendOrderConfirmation"
)

// Schema holds the message descriptors of the email service contract. Requests
// and responses are handled as dynamic messages, which encode exactly like
// generated ones.
type Schema struct {
	File     protoreflect.FileDescriptor
	Request  protoreflect.MessageDescriptor
	Response protoreflect.MessageDescriptor
	Order    protoreflect.MessageDescriptor
}

var loadSchema = sync.OnceValues(func() (*Schema, error) {
	fd, err := protodesc.NewFile(fileDescriptorProto(), nil)
	if err != nil {
		return nil, fmt.Errorf("rpc: build %s descriptor: %w", ProtoFile, err)
	}
	req := fd.Messages().ByName("SendOrderConfirmationRequest")
	resp := fd.Messages().ByName("Empty")
	order := fd.Messages().ByName("OrderResult")
	if req == nil || resp == nil || order == nil {
		return nil, fmt.Errorf("rpc: %s is missing email service messages", ProtoFile)
	}
	return &Schema{File: fd, Request: req, Response: resp, Order: order}, nil
})

// LoadSchema returns the email service schema. It is built once per process.
func LoadSchema() (*Schema, error) {
	return loadSchema()
}

// NewResponse returns an empty response message.
func (s *Schema) NewResponse() *dynamicpb.Message {
	return dynamicpb.NewMessage(s.Response)
}

// EncodeRequest converts req into a SendOrderConfirmationRequest message.
func (s *Schema) EncodeRequest(req *models.ConfirmationRequest) (*dynamicpb.Message, error) {
	msg := dynamicpb.NewMessage(s.Request)
	if req == nil {
		return msg, nil
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("rpc: encode request: %w", err)
	}
	if err := protojson.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("rpc: encode request: %w", err)
	}
	return msg, nil
}

// DecodeRequest converts a SendOrderConfirmationRequest message into the
// domain request. Absent sub-messages stay nil.
func (s *Schema) DecodeRequest(msg proto.Message) (*models.ConfirmationRequest, error) {
	if msg == nil {
		return nil, fmt.Errorf("rpc: decode request: message is nil")
	}
	if got := msg.ProtoReflect().Descriptor().FullName(); got != s.Request.FullName() {
		return nil, fmt.Errorf("rpc: decode request: unexpected message %s", got)
	}
	req := &models.ConfirmationRequest{}
	if err := toModel(msg, req); err != nil {
		return nil, fmt.Errorf("rpc: decode request: %w", err)
	}
	return req, nil
}

// ParseOrderJSON reads an OrderResult in its protobuf JSON form. Both the
// lowerCamel and the snake_case field names are accepted.
func (s *Schema) ParseOrderJSON(data []byte) (*models.Order, error) {
	msg := dynamicpb.NewMessage(s.Order)
	if err := protojson.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("rpc: parse order: %w", err)
	}
	order := &models.Order{}
	if err := toModel(msg, order); err != nil {
		return nil, fmt.Errorf("rpc: parse order: %w", err)
	}
	return order, nil
}

func toModel(msg proto.Message, dst any) error {
	data, err := protojson.MarshalOptions{UseProtoNames: true}.Marshal(msg)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func fileDescriptorProto() *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String(ProtoFile),
		Package: proto.String(ProtoPackage),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			message("Empty"),
			message("Money",
				scalarField("currency_code", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				scalarField("units", 2, descriptorpb.FieldDescriptorProto_TYPE_INT64),
				scalarField("nanos", 3, descriptorpb.FieldDescriptorProto_TYPE_INT32),
			),
			message("Address",
				scalarField("street_address", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				scalarField("city", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				scalarField("state", 3, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				scalarField("country", 4, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				scalarField("zip_code", 5, descriptorpb.FieldDescriptorProto_TYPE_INT32),
			),
			message("CartItem",
				scalarField("product_id", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				scalarField("quantity", 2, descriptorpb.FieldDescriptorProto_TYPE_INT32),
			),
			message("OrderItem",
				messageField("item", 1, "CartItem", false),
				messageField("cost", 2, "Money", false),
			),
			message("OrderResult",
				scalarField("order_id", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				scalarField("shipping_tracking_id", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				messageField("shipping_cost", 3, "Money", false),
				messageField("shipping_address", 4, "Address", false),
				messageField("items", 5, "OrderItem", true),
			),
			message("SendOrderConfirmationRequest",
				scalarField("email", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				messageField("order", 2, "OrderResult", false),
			),
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("EmailService"),
			Method: []*descriptorpb.MethodDescriptorProto{{
				Name:       proto.String("SendOrderConfirmation"),
				InputType:  proto.String("." + ProtoPackage + ".SendOrderConfirmationRequest"),
				OutputType: proto.String("." + ProtoPackage + ".Empty"),
			}},
		}},
	}
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

func scalarField(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

func messageField(name string, number int32, typeName string, repeated bool) *descriptorpb.FieldDescriptorProto {
	label := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
	if repeated {
		label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED
	}
	return &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(name),
		Number:   proto.Int32(number),
		Label:    label.Enum(),
		Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
		TypeName: proto.String("." + ProtoPackage + "." + typeName),
	}
}
