package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"dealflow/participant"
	"dealflow/reputation"
)

func TestService_RegisterAndLogin(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	req := RegisterRequest{
		Username: "alice",
		Password: "supersafe",
	}

	ctx := context.Background()
	p, err := svc.Register(ctx, req)
	if err != nil {
		t.Fatalf("register: unexpected error: %v", err)
	}

	if p.Username != req.Username {
		t.Fatalf("expected username %q got %q", req.Username, p.Username)
	}
	if p.Status != reputation.StatusNew {
		t.Fatalf("register: expected status %s got %s", reputation.StatusNew, p.Status)
	}
	if p.AccountRef == "" {
		t.Fatal("register: expected ledger account ref")
	}

	resp, err := svc.Login(ctx, LoginRequest{Username: req.Username, Password: req.Password})
	if err != nil {
		t.Fatalf("login: unexpected error: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("login: expected token, got empty string")
	}
	if resp.Participant.ID != p.ID {
		t.Fatalf("login: expected participant id %q got %q", p.ID, resp.Participant.ID)
	}

	tokenID, err := svc.VerifyToken(resp.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if tokenID != p.ID {
		t.Fatalf("verify token: expected %q got %q", p.ID, tokenID)
	}
}

func TestService_RegisterValidation(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	_, err := svc.Register(context.Background(), RegisterRequest{
		Username: "alice",
		Password: "short",
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Username: "   ",
		Password: "strongpassword",
	}); err == nil {
		t.Fatal("expected validation error for missing username")
	}
}

func TestService_DuplicateUsername(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	req := RegisterRequest{
		Username: "alice",
		Password: "strongpassword",
	}
	if _, err := svc.Register(context.Background(), req); err != nil {
		t.Fatalf("first register failed: %v", err)
	}

	if _, err := svc.Register(context.Background(), req); !errors.Is(err, ErrDuplicateUsername) {
		t.Fatalf("expected ErrDuplicateUsername, got %v", err)
	}
}

func TestService_LoginInvalidCredentials(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	_, err := svc.Login(context.Background(), LoginRequest{
		Username: "unknown",
		Password: "irrelevant",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Username: "alice",
		Password: "strongpassword",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err = svc.Login(context.Background(), LoginRequest{
		Username: "alice",
		Password: "wrongpassword",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestService_VerifyTokenRejectsForgery(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")
	other := NewService(repo, "other-secret")

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Username: "alice",
		Password: "strongpassword",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	resp, err := svc.Login(context.Background(), LoginRequest{Username: "alice", Password: "strongpassword"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if _, err := other.VerifyToken(resp.Token); err == nil {
		t.Fatal("expected verification to fail under a different secret")
	}
}

type fakeRepository struct {
	byUsername map[string]Credentials
	nextID     int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		byUsername: make(map[string]Credentials),
		nextID:     1,
	}
}

func (f *fakeRepository) CreateParticipant(ctx context.Context, username, passwordHash string) (participant.Participant, error) {
	if _, exists := f.byUsername[strings.ToLower(username)]; exists {
		return participant.Participant{}, ErrDuplicateUsername
	}

	id := fmt.Sprintf("participant-%d", f.nextID)
	f.nextID++

	f.byUsername[strings.ToLower(username)] = Credentials{
		ParticipantID: id,
		Username:      username,
		PasswordHash:  passwordHash,
	}

	return participant.Participant{
		ID:         id,
		Username:   username,
		AccountRef: "participant_" + id,
		Status:     reputation.StatusNew,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}, nil
}

func (f *fakeRepository) GetCredentials(ctx context.Context, username string) (Credentials, error) {
	creds, ok := f.byUsername[strings.ToLower(username)]
	if !ok {
		return Credentials{}, ErrNotFound
	}
	return creds, nil
}
