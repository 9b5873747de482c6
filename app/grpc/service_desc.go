package grpc

import (
	"context"

	"github.com/vibast-solutions/ms-go-lavago-payments/app/types"
	"google.golang.org/grpc"
)

const ServiceName = "payments.v1.PaymentsService"

type PaymentsServiceServer interface {
	CreatePayment(context.Context, *types.CreatePaymentRequest) (*types.PaymentEnvelopeResponse, error)
	GetPayment(context.Context, *types.GetPaymentRequest) (*types.PaymentEnvelopeResponse, error)
	ListPayments(context.Context, *types.ListPaymentsRequest) (*types.ListPaymentsResponse, error)
	AuthorizePayment(context.Context, *types.AuthorizePaymentRequest) (*types.PaymentEnvelopeResponse, error)
	ConfirmPayment(context.Context, *types.ConfirmPaymentRequest) (*types.PaymentEnvelopeResponse, error)
	FailPayment(context.Context, *types.FailPaymentRequest) (*types.PaymentEnvelopeResponse, error)
	RefundPayment(context.Context, *types.RefundPaymentRequest) (*types.PaymentEnvelopeResponse, error)
	CancelPayment(context.Context, *types.CancelPaymentRequest) (*types.PaymentEnvelopeResponse, error)
}

func RegisterPaymentsServiceServer(registrar grpc.ServiceRegistrar, srv PaymentsServiceServer) {
	registrar.RegisterService(&PaymentsServiceDesc, srv)
}

var PaymentsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PaymentsServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreatePayment", Handler: unaryHandler("CreatePayment", PaymentsServiceServer.CreatePayment)},
		{MethodName: "GetPayment", Handler: unaryHandler("GetPayment", PaymentsServiceServer.GetPayment)},
		{MethodName: "ListPayments", Handler: unaryHandler("ListPayments", PaymentsServiceServer.ListPayments)},
		{MethodName: "AuthorizePayment", Handler: unaryHandler("AuthorizePayment", PaymentsServiceServer.AuthorizePayment)},
		{MethodName: "ConfirmPayment", Handler: unaryHandler("ConfirmPayment", PaymentsServiceServer.ConfirmPayment)},
		{MethodName: "FailPayment", Handler: unaryHandler("FailPayment", PaymentsServiceServer.FailPayment)},
		{MethodName: "RefundPayment", Handler: unaryHandler("RefundPayment", PaymentsServiceServer.RefundPayment)},
		{MethodName: "CancelPayment", Handler: unaryHandler("CancelPayment", PaymentsServiceServer.CancelPayment)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "payments/v1/payments.proto",
}

func unaryHandler[Req any, Resp any](
	method string,
	call func(PaymentsServiceServer, context.Context, *Req) (*Resp, error),
) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PaymentsServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(PaymentsServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// PaymentsServiceClient calls PaymentsService over the registered struct codec.
type PaymentsServiceClient struct {
	conn grpc.ClientConnInterface
}

func NewPaymentsServiceClient(conn grpc.ClientConnInterface) *PaymentsServiceClient {
	return &PaymentsServiceClient{conn: conn}
}

func (c *PaymentsServiceClient) CreatePayment(ctx context.Context, in *types.CreatePaymentRequest, opts ...grpc.CallOption) (*types.PaymentEnvelopeResponse, error) {
	out := new(types.PaymentEnvelopeResponse)
	return out, c.invoke(ctx, "CreatePayment", in, out, opts)
}

func (c *PaymentsServiceClient) GetPayment(ctx context.Context, in *types.GetPaymentRequest, opts ...grpc.CallOption) (*types.PaymentEnvelopeResponse, error) {
	out := new(types.PaymentEnvelopeResponse)
	return out, c.invoke(ctx, "GetPayment", in, out, opts)
}

func (c *PaymentsServiceClient) ListPayments(ctx context.Context, in *types.ListPaymentsRequest, opts ...grpc.CallOption) (*types.ListPaymentsResponse, error) {
	out := new(types.ListPaymentsResponse)
	return out, c.invoke(ctx, "ListPayments", in, out, opts)
}

func (c *PaymentsServiceClient) AuthorizePayment(ctx context.Context, in *types.AuthorizePaymentRequest, opts ...grpc.CallOption) (*types.PaymentEnvelopeResponse, error) {
	out := new(types.PaymentEnvelopeResponse)
	return out, c.invoke(ctx, "AuthorizePayment", in, out, opts)
}

func (c *PaymentsServiceClient) ConfirmPayment(ctx context.Context, in *types.ConfirmPaymentRequest, opts ...grpc.CallOption) (*types.PaymentEnvelopeResponse, error) {
	out := new(types.PaymentEnvelopeResponse)
	return out, c.invoke(ctx, "ConfirmPayment", in, out, opts)
}

func (c *PaymentsServiceClient) FailPayment(ctx context.Context, in *types.FailPaymentRequest, opts ...grpc.CallOption) (*types.PaymentEnvelopeResponse, error) {
	out := new(types.PaymentEnvelopeResponse)
	return out, c.invoke(ctx, "FailPayment", in, out, opts)
}

func (c *PaymentsServiceClient) RefundPayment(ctx context.Context, in *types.RefundPaymentRequest, opts ...grpc.CallOption) (*types.PaymentEnvelopeResponse, error) {
	out := new(types.PaymentEnvelopeResponse)
	return out, c.invoke(ctx, "RefundPayment", in, out, opts)
}

func (c *PaymentsServiceClient) CancelPayment(ctx context.Context, in *types.CancelPaymentRequest, opts ...grpc.CallOption) (*types.PaymentEnvelopeResponse, error) {
	out := new(types.PaymentEnvelopeResponse)
	return out, c.invoke(ctx, "CancelPayment", in, out, opts)
}

func (c *PaymentsServiceClient) invoke(ctx context.Context, method string, in, out interface{}, opts []grpc.CallOption) error {
	return c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...)
}
