package handler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rl1809/planet-auction/internal/core/service"
)

const auctionServiceName = "planetauction.v1.Auction"

// AuctionServer is the server API for the planetauction.v1.Auction service.
// Messages are google.protobuf.Struct values.
type AuctionServer interface {
	Purchase(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RunAuction(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func RegisterAuctionServer(s grpc.ServiceRegistrar, srv AuctionServer) {
	s.RegisterService(&auctionServiceDesc, srv)
}

var auctionServiceDesc = grpc.ServiceDesc{
	ServiceName: auctionServiceName,
	HandlerType: (*AuctionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Purchase", Handler: purchaseHandler},
		{MethodName: "RunAuction", Handler: runAuctionHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "planetauction/v1/auction.proto",
}

func purchaseHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuctionServer).Purchase(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + auctionServiceName + "/Purchase"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AuctionServer).Purchase(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func runAuctionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuctionServer).RunAuction(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + auctionServiceName + "/RunAuction"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AuctionServer).RunAuction(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

type GRPCHandler struct {
	purchases *service.PurchaseService
	auctions  *service.AuctionService
	sessions  *Sessions // optional
}

func NewGRPCHandler(purchases *service.PurchaseService, auctions *service.AuctionService, sessions *Sessions) *GRPCHandler {
	return &GRPCHandler{purchases: purchases, auctions: auctions, sessions: sessions}
}

// Purchase reads request_id and player_name. The player comes from a bearer
// token in the "authorization" metadata, as on the HTTP API; without one a
// new player is registered. Business failures are reported in the response
// body, not as RPC errors.
func (h *GRPCHandler) Purchase(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	purchase := service.PurchaseRequest{
		RequestID:  fields["request_id"].GetStringValue(),
		PlayerName: fields["player_name"].GetStringValue(),
	}
	if token := metadataToken(ctx); token != "" {
		if h.sessions == nil {
			return nil, status.Error(codes.Unauthenticated, "sessions are disabled")
		}
		claims, err := h.sessions.Parse(token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid session")
		}
		purchase.PlayerID = claims.Subject
	}

	result, err := h.purchases.Purchase(ctx, purchase)
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return nil, status.FromContextError(err).Err()
	}

	resp := map[string]interface{}{
		"success":   err == nil,
		"player_id": result.Player.ID,
	}
	if result.Registered && h.sessions != nil {
		if token, terr := h.sessions.Issue(result.Player); terr == nil {
			resp["token"] = token
		}
	}
	if err != nil {
		resp["message"] = service.StatusMessage(err)
		return structpb.NewStruct(resp)
	}

	resp["message"] = result.Status
	resp["player_name"] = result.Player.Name
	resp["planet"] = result.Settlement.Match.Planet.Name
	resp["price"] = float64(result.Settlement.Price)
	resp["planet_dollars"] = float64(result.Player.PlanetDollars)
	return structpb.NewStruct(resp)
}

// RunAuction reads shares and show_console_output and returns the report.
func (h *GRPCHandler) RunAuction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	shares, err := countField(fields, "shares")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	verbose := fields["show_console_output"].GetBoolValue()

	report, err := h.auctions.RunAuction(ctx, shares, verbose)
	if err != nil {
		if errors.Is(err, service.ErrInvalidShareCount) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}

	return structpb.NewStruct(map[string]interface{}{
		"requested":   report.Requested,
		"purchased":   report.Purchased,
		"failed":      report.Failed,
		"no_match":    report.NoMatch,
		"stale_match": report.StaleMatch,
		"transient":   report.Transient,
		"fatal":       report.Fatal,
		"elapsed_ms":  float64(report.Elapsed.Milliseconds()),
	})
}

// countField reads a non-negative whole number. A missing field is zero.
func countField(fields map[string]*structpb.Value, name string) (int, error) {
	v, ok := fields[name]
	if !ok {
		return 0, nil
	}
	if _, isNumber := v.GetKind().(*structpb.Value_NumberValue); !isNumber {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	n := v.GetNumberValue()
	if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) {
		return 0, fmt.Errorf("%s must be a whole number", name)
	}
	if n < 0 || n > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s is out of range", service.ErrInvalidShareCount, name)
	}
	return int(n), nil
}

func metadataToken(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, auth := range md.Get("authorization") {
		if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
			return strings.TrimSpace(auth[7:])
		}
	}
	return ""
}
