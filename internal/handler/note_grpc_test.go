package handler

import (
	"context"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"clinicnotes/internal/auth"
	"clinicnotes/internal/domain"
	"clinicnotes/internal/logger"
	"clinicnotes/internal/service"
)

const bufSize = 1024 * 1024

func newGRPCClient(t *testing.T) (*NoteServiceClient, healthpb.HealthClient, *service.NoteService, func() float64) {
	t.Helper()

	notes, _, m, _ := newTestServices(t)

	lis := bufconn.Listen(bufSize)
	s := grpc.NewServer(grpc.UnaryInterceptor(UnaryInterceptor(m, logger.Nop())))
	RegisterGRPC(s, NewNoteGRPCHandler(notes, logger.Nop()))
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("Failed to dial bufnet: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	requests := func() float64 {
		return testutil.ToFloat64(m.RequestsTotal.WithLabelValues("grpc", "/notes.v1.NoteService/SignNote", "OK"))
	}
	return NewNoteServiceClient(conn), healthpb.NewHealthClient(conn), notes, requests
}

func noteRequest(t *testing.T, noteID string) *structpb.Struct {
	t.Helper()
	req, err := structpb.NewStruct(map[string]interface{}{"note_id": noteID})
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	return req
}

func TestGRPCNoteService(t *testing.T) {
	client, _, notes, signCalls := newGRPCClient(t)
	ctx := context.Background()

	note, err := notes.CreateNote(ctx, service.CreateNoteInput{Title: "Intake", Content: "Hello", Author: *alice})
	if err != nil {
		t.Fatalf("CreateNote failed: %v", err)
	}

	_, err = client.GetNote(ctx, noteRequest(t, note.ID))
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("Expected Unauthenticated, got %v", err)
	}

	asAlice := auth.OutgoingContext(ctx, *alice)
	resp, err := client.SignNote(asAlice, noteRequest(t, note.ID))
	if err != nil {
		t.Fatalf("SignNote failed: %v", err)
	}
	signedNote := resp.GetFields()["note"].GetStructValue()
	if signedNote.GetFields()["status"].GetStringValue() != string(domain.NoteStatusSigned) {
		t.Errorf("Unexpected sign response: %v", resp)
	}
	if signCalls() != 1 {
		t.Errorf("Expected SignNote to be counted, got %v", signCalls())
	}

	resp, err = client.GetHistory(asAlice, noteRequest(t, note.ID))
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	versions := resp.GetFields()["versions"].GetListValue().GetValues()
	if len(versions) != 1 || versions[0].GetStructValue().GetFields()["content"].GetStringValue() != "Hello" {
		t.Errorf("Unexpected history: %v", resp)
	}

	if _, err := notes.RequestCoSignature(ctx, service.RequestInput{NoteID: note.ID, From: *alice, To: *carol}); err != nil {
		t.Fatalf("RequestCoSignature failed: %v", err)
	}
	asCarol := auth.OutgoingContext(ctx, *carol)
	resp, err = client.GetPendingRequests(asCarol, &structpb.Struct{})
	if err != nil {
		t.Fatalf("GetPendingRequests failed: %v", err)
	}
	if n := len(resp.GetFields()["requests"].GetListValue().GetValues()); n != 1 {
		t.Errorf("Expected 1 pending request, got %d", n)
	}

	resp, err = client.CoSignNote(asCarol, noteRequest(t, note.ID))
	if err != nil {
		t.Fatalf("CoSignNote failed: %v", err)
	}
	cosigned := resp.GetFields()["note"].GetStructValue()
	if cosigned.GetFields()["status"].GetStringValue() != string(domain.NoteStatusCoSigned) {
		t.Errorf("Unexpected co-sign response: %v", resp)
	}

	_, err = client.GetNote(asAlice, noteRequest(t, "missing"))
	if status.Code(err) != codes.NotFound {
		t.Errorf("Expected NotFound, got %v", err)
	}
	_, err = client.GetNote(asAlice, &structpb.Struct{})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("Expected InvalidArgument, got %v", err)
	}
}

func TestGRPCHealth(t *testing.T) {
	_, health, _, _ := newGRPCClient(t)

	resp, err := health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: NoteServiceName})
	if err != nil {
		t.Fatalf("Health check failed: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("Expected SERVING, got %s", resp.GetStatus())
	}
}
