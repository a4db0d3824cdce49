package payment

import (
	"context"

	"google.golang.org/grpc"
)

const ChargeMethod = "/payment.PaymentService/Charge"

type ChargeStatus string

const (
	ChargeStatusSucceeded ChargeStatus = "succeeded"
	ChargeStatusDeclined  ChargeStatus = "declined"
)

// ChargeMessage is the wire request of PaymentService.Charge.
type ChargeMessage struct {
	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
	Token          string `json:"token"`
	Description    string `json:"description,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// ChargeReply is the wire response of PaymentService.Charge. Declines are
// replies, not gRPC errors.
type ChargeReply struct {
	Status        ChargeStatus `json:"status"`
	ChargeID      string       `json:"charge_id,omitempty"`
	DeclineCode   string       `json:"decline_code,omitempty"`
	DeclineReason string       `json:"decline_reason,omitempty"`
}

type PaymentServiceServer interface {
	Charge(ctx context.Context, req *ChargeMessage) (*ChargeReply, error)
}

var PaymentServiceDesc = grpc.ServiceDesc{
	ServiceName: "payment.PaymentService",
	HandlerType: (*PaymentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Charge", Handler: chargeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "payment.proto",
}

func RegisterPaymentServiceServer(s grpc.ServiceRegistrar, srv PaymentServiceServer) {
	s.RegisterService(&PaymentServiceDesc, srv)
}

func chargeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ChargeMessage)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PaymentServiceServer).Charge(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ChargeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PaymentServiceServer).Charge(ctx, req.(*ChargeMessage))
	}
	return interceptor(ctx, in, info, handler)
}
