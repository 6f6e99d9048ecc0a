package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/masallsome/rapidmember/pkg/wire"
)

// Ack is the empty response for one-way notifications (link-update
// reports) that only need delivery confirmation.
type Ack struct{}

// MembershipServer is the set of inbound RPCs a rapidmember node answers.
// It is implemented by pkg/service.MembershipService and registered onto a
// *grpc.Server via RegisterMembershipServer.
type MembershipServer interface {
	JoinPhase1(ctx context.Context, req *wire.JoinMessage) (*wire.JoinResponse, error)
	JoinPhase2(ctx context.Context, req *wire.JoinMessage) (*wire.JoinResponse, error)
	LinkUpdate(ctx context.Context, req *wire.LinkUpdateMessage) (*Ack, error)
	Probe(ctx context.Context, req *wire.ProbeMessage) (*wire.ProbeResponse, error)
}

const serviceName = "rapidmember.Membership"

// unaryHandler adapts a typed handler function into the untyped
// grpc.MethodHandler shape grpc.ServiceDesc requires. This is the same
// shape protoc-gen-go-grpc emits; we just build it by hand since there is
// no protoc pipeline in this repo.
func unaryHandler[Req any, Resp any](handle func(ctx context.Context, req *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return handle(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName}
		wrapper := func(ctx context.Context, req interface{}) (interface{}, error) {
			return handle(ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, wrapper)
	}
}

// ServiceDesc is the hand-authored equivalent of a protoc-generated
// _grpc.pb.go ServiceDesc, wired against MembershipServer.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*MembershipServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "JoinPhase1",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				return unaryHandler(srv.(MembershipServer).JoinPhase1)(srv, ctx, dec, interceptor)
			},
		},
		{
			MethodName: "JoinPhase2",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				return unaryHandler(srv.(MembershipServer).JoinPhase2)(srv, ctx, dec, interceptor)
			},
		},
		{
			MethodName: "LinkUpdate",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				return unaryHandler(srv.(MembershipServer).LinkUpdate)(srv, ctx, dec, interceptor)
			},
		},
		{
			MethodName: "Probe",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				return unaryHandler(srv.(MembershipServer).Probe)(srv, ctx, dec, interceptor)
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rapidmember.proto",
}

// RegisterMembershipServer registers srv's RPCs onto s.
func RegisterMembershipServer(s *grpc.Server, srv MembershipServer) {
	s.RegisterService(&ServiceDesc, srv)
}
