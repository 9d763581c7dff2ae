package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/jewelpark/poker3/internal/player"
)

var errNoRow = errors.New("not found")

type fakeStore struct {
	tokens map[string]player.ID
	err    error
}

func (f *fakeStore) Identify(ctx context.Context, username, token string) (player.ID, error) {
	if f.err != nil {
		return 0, f.err
	}
	id, ok := f.tokens[username+":"+token]
	if !ok {
		return 0, errNoRow
	}
	return id, nil
}

func TestStoreValidator_ValidToken(t *testing.T) {
	store := &fakeStore{tokens: map[string]player.ID{"alice:tok-1": 42}}
	validator := NewStoreValidator(store, errNoRow)

	id, err := validator.Validate(context.Background(), "alice", "tok-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if id != 42 {
		t.Errorf("expected id 42, got %d", id)
	}
}

func TestStoreValidator_InvalidToken(t *testing.T) {
	store := &fakeStore{tokens: map[string]player.ID{"alice:tok-1": 42}}
	validator := NewStoreValidator(store, errNoRow)

	_, err := validator.Validate(context.Background(), "alice", "wrong")
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestStoreValidator_EmptyCredentials(t *testing.T) {
	validator := NewStoreValidator(&fakeStore{}, errNoRow)

	if _, err := validator.Validate(context.Background(), "", "tok"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for empty username, got %v", err)
	}
	if _, err := validator.Validate(context.Background(), "alice", ""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for empty token, got %v", err)
	}
}

func TestStoreValidator_StoreDown(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	validator := NewStoreValidator(store, errNoRow)

	_, err := validator.Validate(context.Background(), "alice", "tok-1")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestNoopValidator(t *testing.T) {
	validator := NewNoopValidator()

	id, err := validator.Validate(context.Background(), "7", "anything")
	if err != nil {
		t.Fatalf("noop validator rejected numeric username: %v", err)
	}
	if id != 7 {
		t.Errorf("expected id 7, got %d", id)
	}

	if _, err := validator.Validate(context.Background(), "", "tok"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for empty username, got %v", err)
	}
	if _, err := validator.Validate(context.Background(), "alice", "tok"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for non-numeric username, got %v", err)
	}
}
