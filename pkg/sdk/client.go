package vecgate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"

	"github.com/kailas-cloud/vecgate/internal/transport/grpcapi"
)

// Client is the vecgate client entry point. It is safe for concurrent use.
type Client struct {
	conn   *grpc.ClientConn
	api    *grpcapi.Client
	health healthpb.HealthClient
	obs    *observer
}

// New creates a Client for target (host:port or any grpc target URI).
// The connection is established lazily on the first call.
func New(target string, opts ...Option) (*Client, error) {
	if target == "" {
		return nil, errors.New("vecgate: target is required")
	}
	cfg := &clientConfig{}
	for _, o := range opts {
		o.apply(cfg)
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		return nil, err
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(unaryCallOptions(cfg)),
		grpc.WithChainStreamInterceptor(streamCallOptions(cfg)),
	}
	dialOpts = append(dialOpts, cfg.dialOpts...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("vecgate: dial %s: %w", target, err)
	}
	return &Client{
		conn:   conn,
		api:    grpcapi.NewClient(conn),
		health: healthpb.NewHealthClient(conn),
		obs:    obs,
	}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Search starts a query on collection.
func (c *Client) Search(collection string) *SearchBuilder {
	return &SearchBuilder{client: c, collection: collection}
}

// Upsert writes records atomically: any invalid record fails the whole call.
func (c *Client) Upsert(ctx context.Context, collection string, records []Record) (affected int, err error) {
	defer func(start time.Time) { c.obs.observe("upsert", start, err) }(time.Now())
	resp, err := c.api.Upsert(ctx, &grpcapi.UpsertRequest{Collection: collection, Records: records})
	if err != nil {
		return 0, fromStatus(err)
	}
	return resp.Affected, nil
}

// BatchUpsert writes records and reports the outcome of each one.
func (c *Client) BatchUpsert(ctx context.Context, collection string, records []Record) (res BatchResult, err error) {
	defer func(start time.Time) { c.obs.observe("batch_upsert", start, err) }(time.Now())
	resp, err := c.api.BatchUpsert(ctx, &grpcapi.UpsertRequest{Collection: collection, Records: records})
	if err != nil {
		return BatchResult{}, fromStatus(err)
	}
	res = BatchResult{
		Items:     make([]BatchItem, len(resp.Items)),
		Succeeded: resp.Succeeded,
		Failed:    resp.Failed,
	}
	for i, it := range resp.Items {
		res.Items[i] = BatchItem{ID: it.ID, Index: it.Index, OK: it.Code == ""}
		if it.Code != "" {
			res.Items[i].Err = itemError(it)
		}
	}
	return res, nil
}

// Delete removes ids. Unknown ids are not an error.
func (c *Client) Delete(ctx context.Context, collection string, ids ...string) (affected int, err error) {
	defer func(start time.Time) { c.obs.observe("delete", start, err) }(time.Now())
	resp, err := c.api.Delete(ctx, &grpcapi.DeleteRequest{Collection: collection, IDs: ids})
	if err != nil {
		return 0, fromStatus(err)
	}
	return resp.Affected, nil
}

// Embed streams embeddings of texts from model, calling fn once per completed
// chunk in order. Returning an error from fn cancels the stream.
func (c *Client) Embed(ctx context.Context, model string, texts []string, fn func(EmbedChunk) error) (err error) {
	defer func(start time.Time) { c.obs.observe("embed", start, err) }(time.Now())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.api.StreamEmbed(ctx, &grpcapi.EmbedRequest{Model: model, Texts: texts})
	if err != nil {
		return fromStatus(err)
	}
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fromStatus(err)
		}
		chunk := EmbedChunk{Offset: msg.Offset, TotalTokens: msg.TotalTokens, Vectors: make([][]float32, len(msg.Items))}
		for i, it := range msg.Items {
			chunk.Vectors[i] = it.Vector
		}
		if err := fn(chunk); err != nil {
			return err
		}
	}
}

// Healthy reports whether the gateway service is SERVING.
func (c *Client) Healthy(ctx context.Context) (bool, error) {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: grpcapi.ServiceName})
	if err != nil {
		return false, fromStatus(err)
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

func itemError(it grpcapi.ItemStatus) error {
	e := &Error{Kind: Kind(it.Code), Message: it.Message, err: ErrInternal}
	if sentinel, ok := kindSentinels[e.Kind]; ok {
		e.err = sentinel
	}
	return e
}

func withAuth(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+key)
}

func unaryCallOptions(cfg *clientConfig) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker, opts ...grpc.CallOption,
	) error {
		ctx = withAuth(ctx, cfg.apiKey)
		if _, ok := ctx.Deadline(); !ok && cfg.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
			defer cancel()
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

func streamCallOptions(cfg *clientConfig) grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string,
		streamer grpc.Streamer, opts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		return streamer(withAuth(ctx, cfg.apiKey), desc, cc, method, opts...)
	}
}
