package grpcapi

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "vecgate.v1.VectorGateway"

const (
	methodSearch      = "/" + ServiceName + "/Search"
	methodUpsert      = "/" + ServiceName + "/Upsert"
	methodDelete      = "/" + ServiceName + "/Delete"
	methodBatchUpsert = "/" + ServiceName + "/BatchUpsert"
	methodStreamEmbed = "/" + ServiceName + "/StreamEmbed"
)

// VectorGatewayServer is the server API of the gateway service.
type VectorGatewayServer interface {
	Search(context.Context, *SearchRequest) (*SearchResponse, error)
	Upsert(context.Context, *UpsertRequest) (*WriteResponse, error)
	Delete(context.Context, *DeleteRequest) (*WriteResponse, error)
	BatchUpsert(context.Context, *UpsertRequest) (*BatchUpsertResponse, error)
	StreamEmbed(*EmbedRequest, EmbedStream) error
}

// EmbedStream is the server side of StreamEmbed.
type EmbedStream interface {
	Send(*EmbedChunk) error
	grpc.ServerStream
}

type embedStream struct {
	grpc.ServerStream
}

func (s *embedStream) Send(m *EmbedChunk) error { return s.ServerStream.SendMsg(m) }

// ServiceDesc describes the gateway service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VectorGatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Search", Handler: searchHandler},
		{MethodName: "Upsert", Handler: upsertHandler},
		{MethodName: "Delete", Handler: deleteHandler},
		{MethodName: "BatchUpsert", Handler: batchUpsertHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamEmbed", Handler: streamEmbedHandler, ServerStreams: true},
	},
	Metadata: "vecgate/v1/gateway",
}

// RegisterVectorGatewayServer registers srv on s.
func RegisterVectorGatewayServer(s grpc.ServiceRegistrar, srv VectorGatewayServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func searchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SearchRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VectorGatewayServer).Search(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodSearch}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(VectorGatewayServer).Search(ctx, req.(*SearchRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func upsertHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(UpsertRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VectorGatewayServer).Upsert(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodUpsert}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(VectorGatewayServer).Upsert(ctx, req.(*UpsertRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func deleteHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DeleteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VectorGatewayServer).Delete(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodDelete}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(VectorGatewayServer).Delete(ctx, req.(*DeleteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func batchUpsertHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(UpsertRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VectorGatewayServer).BatchUpsert(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodBatchUpsert}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(VectorGatewayServer).BatchUpsert(ctx, req.(*UpsertRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func streamEmbedHandler(srv any, stream grpc.ServerStream) error {
	in := new(EmbedRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(VectorGatewayServer).StreamEmbed(in, &embedStream{stream})
}

// Client calls the gateway service. It forces the JSON codec on every call.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a client connection.
func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

// Search runs a similarity search.
func (c *Client) Search(ctx context.Context, in *SearchRequest, opts ...grpc.CallOption) (*SearchResponse, error) {
	out := new(SearchResponse)
	if err := c.cc.Invoke(ctx, methodSearch, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// Upsert writes records.
func (c *Client) Upsert(ctx context.Context, in *UpsertRequest, opts ...grpc.CallOption) (*WriteResponse, error) {
	out := new(WriteResponse)
	if err := c.cc.Invoke(ctx, methodUpsert, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes ids.
func (c *Client) Delete(ctx context.Context, in *DeleteRequest, opts ...grpc.CallOption) (*WriteResponse, error) {
	out := new(WriteResponse)
	if err := c.cc.Invoke(ctx, methodDelete, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// BatchUpsert writes records with per-item status.
func (c *Client) BatchUpsert(ctx context.Context, in *UpsertRequest, opts ...grpc.CallOption) (*BatchUpsertResponse, error) {
	out := new(BatchUpsertResponse)
	if err := c.cc.Invoke(ctx, methodBatchUpsert, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedStreamClient receives StreamEmbed chunks.
type EmbedStreamClient struct {
	grpc.ClientStream
}

// Recv returns the next chunk, or io.EOF after the last one.
func (s *EmbedStreamClient) Recv() (*EmbedChunk, error) {
	m := new(EmbedChunk)
	if err := s.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// StreamEmbed opens an embedding stream.
func (c *Client) StreamEmbed(ctx context.Context, in *EmbedRequest, opts ...grpc.CallOption) (*EmbedStreamClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], methodStreamEmbed, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EmbedStreamClient{ClientStream: stream}, nil
}
