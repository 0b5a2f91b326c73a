// Package auth извлекает личность вызывающего из заголовков HTTP и метаданных gRPC.
// Аутентификация выполняется шлюзом перед сервисом.
package auth

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"

	"clinicnotes/internal/domain"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserName = "X-User-Name"
	HeaderUserRole = "X-User-Role"
)

var ErrNoIdentity = errors.New("no user identity")

type ctxKey struct{}

// FromRequest читает пользователя из заголовков запроса
func FromRequest(r *http.Request) (domain.Actor, error) {
	actor := domain.Actor{
		ID:   strings.TrimSpace(r.Header.Get(HeaderUserID)),
		Name: strings.TrimSpace(r.Header.Get(HeaderUserName)),
		Role: strings.TrimSpace(r.Header.Get(HeaderUserRole)),
	}
	if actor.ID == "" {
		return domain.Actor{}, ErrNoIdentity
	}
	if actor.Name == "" {
		actor.Name = actor.ID
	}
	return actor, nil
}

// FromIncomingContext читает пользователя из входящих метаданных gRPC
func FromIncomingContext(ctx context.Context) (domain.Actor, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return domain.Actor{}, ErrNoIdentity
	}

	first := func(key string) string {
		if values := md.Get(key); len(values) > 0 {
			return strings.TrimSpace(values[0])
		}
		return ""
	}

	actor := domain.Actor{
		ID:   first(HeaderUserID),
		Name: first(HeaderUserName),
		Role: first(HeaderUserRole),
	}
	if actor.ID == "" {
		return domain.Actor{}, ErrNoIdentity
	}
	if actor.Name == "" {
		actor.Name = actor.ID
	}
	return actor, nil
}

// OutgoingContext добавляет личность в исходящие метаданные gRPC
func OutgoingContext(ctx context.Context, actor domain.Actor) context.Context {
	return metadata.AppendToOutgoingContext(ctx,
		strings.ToLower(HeaderUserID), actor.ID,
		strings.ToLower(HeaderUserName), actor.Name,
		strings.ToLower(HeaderUserRole), actor.Role,
	)
}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, actor)
}

func ActorFrom(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(ctxKey{}).(domain.Actor)
	return actor, ok
}

// ClientIP берёт адрес из RemoteAddr; middleware.RealIP уже подставил X-Forwarded-For
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// PeerIP возвращает адрес клиента gRPC
func PeerIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return p.Addr.String()
	}
	return host
}
