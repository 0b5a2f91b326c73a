package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"clinicnotes/internal/auth"
	"clinicnotes/internal/domain"
	"clinicnotes/internal/logger"
	"clinicnotes/internal/metrics"
	"clinicnotes/internal/service"
)

const NoteServiceName = "notes.v1.NoteService"

// NoteServiceServer - gRPC-поверхность сервиса заметок.
// Сообщения передаются как google.protobuf.Struct с полями в snake_case.
type NoteServiceServer interface {
	GetNote(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SignNote(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CoSignNote(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPendingRequests(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler(method string, call func(NoteServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(NoteServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + NoteServiceName + "/" + method,
			}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(NoteServiceServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

var NoteServiceDesc = grpc.ServiceDesc{
	ServiceName: NoteServiceName,
	HandlerType: (*NoteServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("GetNote", NoteServiceServer.GetNote),
		unaryHandler("GetHistory", NoteServiceServer.GetHistory),
		unaryHandler("SignNote", NoteServiceServer.SignNote),
		unaryHandler("CoSignNote", NoteServiceServer.CoSignNote),
		unaryHandler("GetPendingRequests", NoteServiceServer.GetPendingRequests),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "notes/v1/notes.proto",
}

type NoteGRPCHandler struct {
	notes *service.NoteService
	log   zerolog.Logger
}

func NewNoteGRPCHandler(notes *service.NoteService, log zerolog.Logger) *NoteGRPCHandler {
	return &NoteGRPCHandler{
		notes: notes,
		log:   logger.Component(log, "grpc"),
	}
}

// RegisterGRPC регистрирует сервис заметок и стандартный сервис health
func RegisterGRPC(s *grpc.Server, h *NoteGRPCHandler) *health.Server {
	s.RegisterService(&NoteServiceDesc, h)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus(NoteServiceName, healthpb.HealthCheckResponse_SERVING)
	return hs
}

func (h *NoteGRPCHandler) GetNote(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if _, err := auth.FromIncomingContext(ctx); err != nil {
		return nil, h.toStatus(err)
	}
	noteID, err := requiredField(req, "note_id")
	if err != nil {
		return nil, err
	}
	note, err := h.notes.GetNote(ctx, noteID)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toStruct(map[string]interface{}{"note": note})
}

func (h *NoteGRPCHandler) GetHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if _, err := auth.FromIncomingContext(ctx); err != nil {
		return nil, h.toStatus(err)
	}
	noteID, err := requiredField(req, "note_id")
	if err != nil {
		return nil, err
	}
	versions, err := h.notes.History(ctx, noteID)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toStruct(map[string]interface{}{"versions": versions})
}

func (h *NoteGRPCHandler) SignNote(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, noteID, err := h.signRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	result, err := h.notes.Sign(ctx, noteID, actor, auth.PeerIP(ctx))
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toStruct(result)
}

func (h *NoteGRPCHandler) CoSignNote(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, noteID, err := h.signRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	result, err := h.notes.CoSign(ctx, noteID, actor, auth.PeerIP(ctx))
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toStruct(result)
}

func (h *NoteGRPCHandler) signRequest(ctx context.Context, req *structpb.Struct) (domain.Actor, string, error) {
	actor, err := auth.FromIncomingContext(ctx)
	if err != nil {
		return domain.Actor{}, "", h.toStatus(err)
	}
	noteID, err := requiredField(req, "note_id")
	if err != nil {
		return domain.Actor{}, "", err
	}
	return actor, noteID, nil
}

// GetPendingRequests возвращает запросы к вызывающему
func (h *NoteGRPCHandler) GetPendingRequests(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	actor, err := auth.FromIncomingContext(ctx)
	if err != nil {
		return nil, h.toStatus(err)
	}
	requests, err := h.notes.PendingRequests(ctx, actor.ID)
	if err != nil {
		return nil, h.toStatus(err)
	}
	if requests == nil {
		requests = []domain.SignatureRequest{}
	}
	return toStruct(map[string]interface{}{"requests": requests})
}

func (h *NoteGRPCHandler) toStatus(err error) error {
	if errors.Is(err, auth.ErrNoIdentity) {
		return status.Error(codes.Unauthenticated, err.Error())
	}

	switch domain.Kind(err) {
	case domain.KindNotFound:
		return status.Error(codes.NotFound, err.Error())
	case domain.KindLocked:
		return status.Error(codes.FailedPrecondition, domain.ErrNoteLocked.Error())
	case domain.KindInvalidPrecondition:
		return status.Error(codes.FailedPrecondition, err.Error())
	case domain.KindConcurrentModification:
		return status.Error(codes.Aborted, err.Error())
	case domain.KindAlreadyInitialized:
		return status.Error(codes.AlreadyExists, err.Error())
	default:
		h.log.Error().Err(err).Msg("grpc request failed")
		return status.Error(codes.Internal, "internal error")
	}
}

func requiredField(req *structpb.Struct, name string) (string, error) {
	value := req.GetFields()[name].GetStringValue()
	if value == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	return value, nil
}

// toStruct переводит значение в Struct через его JSON-представление
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return s, nil
}

// UnaryInterceptor учитывает вызовы gRPC в метриках и журнале
func UnaryInterceptor(m *metrics.Metrics, log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		duration := time.Since(start)

		m.RecordRequest("grpc", info.FullMethod, code.String(), duration)
		event := log.Debug()
		if err != nil && code == codes.Internal {
			event = log.Error().Err(err)
		}
		event.Str("method", info.FullMethod).Str("code", code.String()).Dur("duration", duration).Msg("grpc request")
		return resp, err
	}
}

// NoteServiceClient - клиент для NoteServiceDesc
type NoteServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewNoteServiceClient(cc grpc.ClientConnInterface) *NoteServiceClient {
	return &NoteServiceClient{cc: cc}
}

func (c *NoteServiceClient) call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fmt.Sprintf("/%s/%s", NoteServiceName, method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *NoteServiceClient) GetNote(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, "GetNote", in, opts...)
}

func (c *NoteServiceClient) GetHistory(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, "GetHistory", in, opts...)
}

func (c *NoteServiceClient) SignNote(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, "SignNote", in, opts...)
}

func (c *NoteServiceClient) CoSignNote(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, "CoSignNote", in, opts...)
}

func (c *NoteServiceClient) GetPendingRequests(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, "GetPendingRequests", in, opts...)
}
