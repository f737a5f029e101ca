package grpc

import (
	"context"
	"crypto/subtle"
	"net"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/logger"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// AdminKeyHeader is the metadata key carrying the admin key
const AdminKeyHeader = "x-admin-key"

// SecurityMiddleware authenticates admin RPCs
type SecurityMiddleware struct {
	adminKey string
	log      *logrus.Entry
}

// NewSecurityMiddleware creates a new security middleware
func NewSecurityMiddleware(adminKey string) *SecurityMiddleware {
	return &SecurityMiddleware{
		adminKey: adminKey,
		log:      logger.Component("grpc"),
	}
}

// UnaryInterceptor rejects calls without the admin key
func (sm *SecurityMiddleware) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if err := sm.authorize(ctx); err != nil {
			ip, userAgent := sm.extractClientInfo(ctx)
			sm.log.WithFields(logrus.Fields{
				"network_address": ip,
				"user_agent":      userAgent,
				"method":          info.FullMethod,
			}).Warn("Admin RPC refused")
			return nil, err
		}
		return handler(ctx, req)
	}
}

func (sm *SecurityMiddleware) authorize(ctx context.Context) error {
	var key string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(AdminKeyHeader); len(v) > 0 {
			key = v[0]
		}
	}
	if key == "" {
		return status.Error(codes.Unauthenticated, "unauthorized")
	}
	if sm.adminKey == "" {
		return status.Error(codes.FailedPrecondition, "server misconfigured")
	}
	if subtle.ConstantTimeCompare([]byte(key), []byte(sm.adminKey)) != 1 {
		return status.Error(codes.PermissionDenied, "unauthorized")
	}
	return nil
}

// extractClientInfo extracts IP address and user agent from gRPC context
func (sm *SecurityMiddleware) extractClientInfo(ctx context.Context) (string, string) {
	ip := "unknown"
	if p, ok := peer.FromContext(ctx); ok {
		if tcpAddr, ok := p.Addr.(*net.TCPAddr); ok {
			ip = tcpAddr.IP.String()
		} else if p.Addr != nil {
			ip = p.Addr.String()
		}
	}

	userAgent := "grpc-client"
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ua := md.Get("user-agent"); len(ua) > 0 {
			userAgent = ua[0]
		}
	}

	return ip, userAgent
}
