package grpcapi

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/lotgate/internal/lotgate/types"
	"github.com/BrandonDHaskell/lotgate/internal/lotgate/wire"
)

// Client calls the Dashboard service and decodes snapshots.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Snapshot(ctx context.Context) (types.Snapshot, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, SnapshotMethod, &emptypb.Empty{}, out); err != nil {
		return types.Snapshot{}, err
	}
	return wire.SnapshotFromStruct(out)
}

// Watcher yields snapshots from an open Watch stream.
type Watcher struct {
	stream grpc.ClientStream
}

func (c *Client) Watch(ctx context.Context) (*Watcher, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], WatchMethod)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, fmt.Errorf("watch request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("watch close send: %w", err)
	}
	return &Watcher{stream: stream}, nil
}

func (w *Watcher) Recv() (types.Snapshot, error) {
	st := new(structpb.Struct)
	if err := w.stream.RecvMsg(st); err != nil {
		return types.Snapshot{}, err
	}
	return wire.SnapshotFromStruct(st)
}
