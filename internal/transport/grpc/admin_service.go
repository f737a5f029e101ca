package grpc

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/audit"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/domain"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/registry"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/usecase"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// AdminServiceName is the fully qualified service name
const AdminServiceName = "shield.admin.v1.AdminService"

// AdminServer is the admin RPC surface. Messages are google.protobuf.Struct.
type AdminServer interface {
	Ban(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Unban(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Suspend(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Unsuspend(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	KillSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	ListSessions(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Stats(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

type adminMethod func(AdminServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call adminMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AdminServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + AdminServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(AdminServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// AdminServiceDesc describes the admin service for grpc.Server.RegisterService
var AdminServiceDesc = grpc.ServiceDesc{
	ServiceName: AdminServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Ban", AdminServer.Ban),
		unaryMethod("Unban", AdminServer.Unban),
		unaryMethod("Suspend", AdminServer.Suspend),
		unaryMethod("Unsuspend", AdminServer.Unsuspend),
		unaryMethod("KillSession", AdminServer.KillSession),
		unaryMethod("ListSessions", AdminServer.ListSessions),
		unaryMethod("Stats", AdminServer.Stats),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "shield/admin/v1/admin.proto",
}

// RegisterAdminServer registers the admin service
func RegisterAdminServer(s grpc.ServiceRegistrar, srv AdminServer) {
	s.RegisterService(&AdminServiceDesc, srv)
}

// AdminClient calls the admin service
type AdminClient struct {
	cc grpc.ClientConnInterface
}

// NewAdminClient creates an admin client
func NewAdminClient(cc grpc.ClientConnInterface) *AdminClient {
	return &AdminClient{cc: cc}
}

// Call invokes an admin method by name
func (c *AdminClient) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+AdminServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// AdminService implements AdminServer on top of the registry and usecases
type AdminService struct {
	access   usecase.AccessUsecase
	sessions usecase.SessionUsecase
	registry *registry.Registry
	recorder *audit.Recorder
}

// NewAdminService creates the admin service
func NewAdminService(access usecase.AccessUsecase, sessions usecase.SessionUsecase, reg *registry.Registry, recorder *audit.Recorder) *AdminService {
	return &AdminService{
		access:   access,
		sessions: sessions,
		registry: reg,
		recorder: recorder,
	}
}

// Ban bans any of hwid, playerId and ip
func (s *AdminService) Ban(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := domain.BanRequest{
		DeviceID:       stringField(in, "hwid"),
		IdentityID:     stringField(in, "playerId"),
		NetworkAddress: stringField(in, "ip"),
		Reason:         stringField(in, "reason"),
		Source:         domain.BanSourceManual,
	}
	if len(req.Keys()) == 0 {
		return nil, status.Error(codes.InvalidArgument, "hwid, playerId or ip is required")
	}
	banID, err := s.access.Ban(ctx, req, usecase.ActorAdmin)
	if err != nil {
		return nil, toStatus(err)
	}
	return result(map[string]interface{}{"banId": banID})
}

// Unban removes every key sharing banId
func (s *AdminService) Unban(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	banID := stringField(in, "banId")
	if banID == "" {
		return nil, status.Error(codes.InvalidArgument, "banId is required")
	}
	removed, err := s.registry.UnbanByID(ctx, banID)
	if err != nil {
		return nil, toStatus(err)
	}
	return result(map[string]interface{}{"removed": removed})
}

// Suspend suspends a device, identity or session. duration is in seconds; 0 is permanent.
func (s *AdminService) Suspend(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	kind, err := domain.ParseSuspendType(stringField(in, "type"))
	if err != nil {
		return nil, toStatus(err)
	}
	duration, err := domain.SuspendDuration(numberField(in, "duration"))
	if err != nil {
		return nil, toStatus(err)
	}
	rec, err := s.registry.Suspend(ctx, kind, stringField(in, "value"), stringField(in, "reason"), duration)
	if err != nil {
		return nil, toStatus(err)
	}
	out := map[string]interface{}{"reason": rec.Reason}
	if rec.ExpiresAt != nil {
		out["expiresAt"] = rec.ExpiresAt.Format(time.RFC3339)
	}
	return result(out)
}

// Unsuspend lifts a suspension
func (s *AdminService) Unsuspend(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	kind, err := domain.ParseSuspendType(stringField(in, "type"))
	if err != nil {
		return nil, toStatus(err)
	}
	removed, err := s.registry.Unsuspend(ctx, kind, stringField(in, "value"))
	if err != nil {
		return nil, toStatus(err)
	}
	return result(map[string]interface{}{"removed": removed})
}

// KillSession terminates a session on its next heartbeat
func (s *AdminService) KillSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	sessionID := stringField(in, "sessionId")
	if sessionID == "" {
		return nil, status.Error(codes.InvalidArgument, "sessionId is required")
	}
	if err := s.sessions.Kill(ctx, sessionID, stringField(in, "reason")); err != nil {
		return nil, toStatus(err)
	}
	return result(nil)
}

// ListSessions returns every session, newest first
func (s *AdminService) ListSessions(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	sessions, err := s.sessions.List(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	list := make([]interface{}, 0, len(sessions))
	for _, sess := range sessions {
		list = append(list, map[string]interface{}{
			"sessionId": sess.ID,
			"hwid":      sess.Identity.DeviceID,
			"userId":    sess.Identity.IdentityID,
			"placeId":   sess.Identity.PlaceContext,
			"ip":        sess.Identity.NetworkAddress,
			"created":   sess.CreatedAt.Format(time.RFC3339),
			"lastSeen":  sess.LastSeenAt.Format(time.RFC3339),
		})
	}
	return result(map[string]interface{}{"sessions": list})
}

// Stats returns the pipeline counters and the session count
func (s *AdminService) Stats(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	stats, err := s.recorder.Stats(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	count, err := s.sessions.Count(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return result(map[string]interface{}{
		"success":    stats.Success,
		"challenges": stats.Challenges,
		"bans":       stats.Bans,
		"sessions":   count,
	})
}

func result(fields map[string]interface{}) (*structpb.Struct, error) {
	out := map[string]interface{}{"ok": true}
	for k, v := range fields {
		out[k] = v
	}
	s, err := structpb.NewStruct(out)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return s, nil
}

// stringField reads a string or number field. Numbers are rendered without exponent.
func stringField(in *structpb.Struct, name string) string {
	v, ok := in.GetFields()[name]
	if !ok {
		return ""
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return k.StringValue
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(k.NumberValue, 'f', -1, 64)
	}
	return ""
}

func numberField(in *structpb.Struct, name string) int64 {
	v, ok := in.GetFields()[name]
	if !ok {
		return 0
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		switch {
		case k.NumberValue >= math.MaxInt64:
			return math.MaxInt64
		case k.NumberValue <= math.MinInt64:
			return math.MinInt64
		}
		return int64(k.NumberValue)
	case *structpb.Value_StringValue:
		// out of range input saturates
		n, _ := strconv.ParseInt(k.StringValue, 10, 64)
		return n
	}
	return 0
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrSessionNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
