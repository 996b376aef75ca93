package subscription

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// subscribeMethod is the Yellowstone-style RPC this client calls. No
// .proto/pb.go is vendored in this repo (spec §4.F), so requests and
// responses are carried as google.protobuf.Struct, the generic
// self-describing wire value every protobuf toolchain understands,
// rather than a generated message type.
const subscribeMethod = "/geyser.Geyser/SubscribeTransactions"

var subscribeStreamDesc = &grpc.StreamDesc{
	StreamName:    "SubscribeTransactions",
	ServerStreams: true,
	ClientStreams: true,
}

// GRPCClient implements GeyserClient against a real gRPC connection.
type GRPCClient struct {
	conn *grpc.ClientConn
}

// NewGRPCClient wraps an already-dialed connection (grpc.NewClient).
func NewGRPCClient(conn *grpc.ClientConn) *GRPCClient {
	return &GRPCClient{conn: conn}
}

func (c *GRPCClient) SubscribeTransactions(ctx context.Context, filter Filter) (UpdateStream, error) {
	stream, err := c.conn.NewStream(ctx, subscribeStreamDesc, subscribeMethod)
	if err != nil {
		return nil, fmt.Errorf("subscription: open stream: %w", err)
	}
	req, err := filterToStruct(filter)
	if err != nil {
		return nil, fmt.Errorf("subscription: encode filter: %w", err)
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, fmt.Errorf("subscription: send filter: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("subscription: close send: %w", err)
	}
	return &grpcUpdateStream{stream: stream}, nil
}

type grpcUpdateStream struct {
	stream grpc.ClientStream
}

func (s *grpcUpdateStream) Recv() (*RawUpdate, error) {
	msg := &structpb.Struct{}
	if err := s.stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return structToRawUpdate(msg), nil
}

func (s *grpcUpdateStream) CloseSend() error {
	return s.stream.CloseSend()
}

func filterToStruct(f Filter) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"commitment":       f.Commitment,
		"vote":             f.Vote,
		"failed":           f.Failed,
		"account_include":  stringsToAny(f.AccountInclude),
		"account_exclude":  stringsToAny(f.AccountExclude),
		"account_required": stringsToAny(f.AccountRequired),
	})
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// structToRawUpdate decodes the generic wire struct into a RawUpdate.
// Fields absent from the struct are left zero-valued, Decode's
// downstream validation (HasRequiredArrays) is what actually enforces
// well-formedness, not this best-effort field extraction.
func structToRawUpdate(s *structpb.Struct) *RawUpdate {
	fields := s.GetFields()
	u := &RawUpdate{}
	if v, ok := fields["signature"]; ok {
		u.Signature = v.GetStringValue()
	}
	if v, ok := fields["slot"]; ok {
		u.Slot = uint64(v.GetNumberValue())
	}
	if v, ok := fields["block_time"]; ok {
		u.BlockTime = int64(v.GetNumberValue())
	}
	if v, ok := fields["err"]; ok {
		u.Err = v.GetBoolValue()
	}
	if v, ok := fields["fee"]; ok {
		u.Fee = uint64(v.GetNumberValue())
	}
	if v, ok := fields["account_keys"]; ok {
		u.StaticAccountKeys = listToStrings(v.GetListValue())
	}
	if v, ok := fields["loaded_writable"]; ok {
		u.LoadedWritable = listToStrings(v.GetListValue())
	}
	if v, ok := fields["loaded_readonly"]; ok {
		u.LoadedReadonly = listToStrings(v.GetListValue())
	}
	if v, ok := fields["pre_balances"]; ok {
		u.PreBalances = listToInt64s(v.GetListValue())
	}
	if v, ok := fields["post_balances"]; ok {
		u.PostBalances = listToInt64s(v.GetListValue())
	}
	if v, ok := fields["pre_token_balances"]; ok {
		u.PreTokenBalances = listToTokenBalances(v.GetListValue())
	}
	if v, ok := fields["post_token_balances"]; ok {
		u.PostTokenBalances = listToTokenBalances(v.GetListValue())
	}
	return u
}

func listToStrings(l *structpb.ListValue) []string {
	if l == nil {
		return nil
	}
	out := make([]string, 0, len(l.GetValues()))
	for _, v := range l.GetValues() {
		out = append(out, v.GetStringValue())
	}
	return out
}

func listToInt64s(l *structpb.ListValue) []int64 {
	if l == nil {
		return nil
	}
	out := make([]int64, 0, len(l.GetValues()))
	for _, v := range l.GetValues() {
		out = append(out, int64(v.GetNumberValue()))
	}
	return out
}

// listToTokenBalances decodes a list of {account_index, mint, owner,
// amount, decimals} structs, the wire shape of pre_token_balances and
// post_token_balances.
func listToTokenBalances(l *structpb.ListValue) []RawTokenBalance {
	if l == nil {
		return nil
	}
	out := make([]RawTokenBalance, 0, len(l.GetValues()))
	for _, v := range l.GetValues() {
		fields := v.GetStructValue().GetFields()
		var b RawTokenBalance
		if f, ok := fields["account_index"]; ok {
			b.AccountIndex = int(f.GetNumberValue())
		}
		if f, ok := fields["mint"]; ok {
			b.Mint = f.GetStringValue()
		}
		if f, ok := fields["owner"]; ok {
			b.Owner = f.GetStringValue()
		}
		if f, ok := fields["amount"]; ok {
			b.Amount = f.GetStringValue()
		}
		if f, ok := fields["decimals"]; ok {
			b.Decimals = uint8(f.GetNumberValue())
		}
		out = append(out, b)
	}
	return out
}
