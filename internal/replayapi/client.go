package replayapi

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/flight-replay/internal/logging"
	"github.com/signalsfoundry/flight-replay/model"
)

// Client is a typed client for the playback service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// outgoing forwards the request id on ctx, if any, as metadata.
func outgoing(ctx context.Context) context.Context {
	if id := logging.RequestIDFromContext(ctx); id != "" {
		return metadata.AppendToOutgoingContext(ctx, requestIDMetadataKey, id)
	}
	return ctx
}

// ListSorties returns the server's sortie catalog.
func (c *Client) ListSorties(ctx context.Context, opts ...grpc.CallOption) ([]model.SortieMeta, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(outgoing(ctx), methodListSorties, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return sortiesFromList(out)
}

// Select asks the server to load a sortie.
func (c *Client) Select(ctx context.Context, sortieID string, opts ...grpc.CallOption) (StatusView, error) {
	req, err := structpb.NewStruct(map[string]any{"sortie_id": sortieID})
	if err != nil {
		return StatusView{}, err
	}
	return c.statusCall(ctx, methodSelect, req, opts...)
}

// Control sends a clock action. arg is the offset for seek and the rate for
// rate; it is ignored otherwise.
func (c *Client) Control(ctx context.Context, action string, arg float64, opts ...grpc.CallOption) (StatusView, error) {
	fields := map[string]any{"action": action}
	switch action {
	case ActionSeek:
		fields["offset"] = arg
	case ActionRate:
		fields["rate"] = arg
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return StatusView{}, err
	}
	return c.statusCall(ctx, methodControl, req, opts...)
}

// SetLoop changes the loop policy ("stop" or "repeat").
func (c *Client) SetLoop(ctx context.Context, policy string, opts ...grpc.CallOption) (StatusView, error) {
	req, err := structpb.NewStruct(map[string]any{"action": ActionLoop, "policy": policy})
	if err != nil {
		return StatusView{}, err
	}
	return c.statusCall(ctx, methodControl, req, opts...)
}

// Status returns the active session.
func (c *Client) Status(ctx context.Context, opts ...grpc.CallOption) (StatusView, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(outgoing(ctx), methodStatus, &emptypb.Empty{}, out, opts...); err != nil {
		return StatusView{}, err
	}
	var st StatusView
	err := FromStruct(out, &st)
	return st, err
}

func (c *Client) statusCall(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (StatusView, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(outgoing(ctx), method, req, out, opts...); err != nil {
		return StatusView{}, err
	}
	var st StatusView
	err := FromStruct(out, &st)
	return st, err
}

// StreamFrames opens a frame stream and calls fn for each frame until the
// stream ends, ctx is cancelled or fn returns an error. maxFrames <= 0
// streams until the server or ctx ends it.
func (c *Client) StreamFrames(ctx context.Context, maxFrames int, fn func(FrameView) error, opts ...grpc.CallOption) error {
	desc := &PlaybackServiceDesc.Streams[0]
	cs, err := c.cc.NewStream(outgoing(ctx), desc, methodStreamFrames, opts...)
	if err != nil {
		return err
	}
	stream := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: cs}

	fields := map[string]any{}
	if maxFrames > 0 {
		fields["max_frames"] = maxFrames
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(req); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		var f FrameView
		if err := FromStruct(msg, &f); err != nil {
			return err
		}
		if err := fn(f); err != nil {
			return err
		}
	}
}
