// Package keyservice implements the three operations on a user's stored
// key-retrieval data: retrieve, upload and remove. Each operation authorizes
// the caller, validates writes, and then defers to a storage.Store.
package keyservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mozilla-services/keyretrieval/policy"
	"github.com/mozilla-services/keyretrieval/storage"
)

type Option func(*options)

type options struct {
	backendTimeout time.Duration
}

// WithBackendTimeout bounds each storage call. Calls that time out fail with
// ErrUnavailable. Zero means no bound other than the caller's context.
func WithBackendTimeout(value time.Duration) Option {
	return func(o *options) {
		o.backendTimeout = value
	}
}

type Service struct {
	opts  options
	store storage.Store
}

func New(store storage.Store, opts ...Option) *Service {
	s := &Service{store: store}
	for _, o := range opts {
		o(&s.opts)
	}
	return s
}

func (s *Service) authorize(userID, principal string, action policy.Action) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}
	if principal == "" {
		return ErrUnauthorized
	}
	if !policy.Allowed(userID, principal, action) {
		return fmt.Errorf("%q may not %s %q: %w", principal, action, userID, ErrForbidden)
	}
	return nil
}

func (s *Service) backendContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.backendTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.backendTimeout)
	}
	return ctx, func() {}
}

// backendError makes sure anything but ErrNotFound reads as ErrUnavailable.
func backendError(err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// Retrieve returns the payload stored for userID. The payload is always
// meant to be served as text/plain, whatever it was uploaded as.
func (s *Service) Retrieve(ctx context.Context, userID, principal string) ([]byte, error) {
	if err := s.authorize(userID, principal, policy.View); err != nil {
		return nil, err
	}
	ctx, cancel := s.backendContext(ctx)
	defer cancel()
	payload, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, backendError(err)
	}
	return payload, nil
}

// Upload validates and stores the request body as the payload for userID,
// replacing any previous one.
func (s *Service) Upload(ctx context.Context, userID, principal string, req UploadRequest) error {
	if err := s.authorize(userID, principal, policy.Edit); err != nil {
		return err
	}
	if err := ValidateUpload(req.ContentType, req.ContentLength); err != nil {
		return err
	}
	payload := make([]byte, req.ContentLength)
	if req.ContentLength > 0 {
		if req.Body == nil {
			return fmt.Errorf("missing body of %d bytes: %w", req.ContentLength, ErrBadRequest)
		}
		if _, err := io.ReadFull(req.Body, payload); err != nil {
			return fmt.Errorf("could not read body of %d bytes: %v: %w", req.ContentLength, err, ErrBadRequest)
		}
	}
	ctx, cancel := s.backendContext(ctx)
	defer cancel()
	return backendError(s.store.Set(ctx, userID, payload))
}

// Remove deletes the payload stored for userID. Removing twice fails with
// ErrNotFound the second time.
func (s *Service) Remove(ctx context.Context, userID, principal string) error {
	if err := s.authorize(userID, principal, policy.Edit); err != nil {
		return err
	}
	ctx, cancel := s.backendContext(ctx)
	defer cancel()
	return backendError(s.store.Delete(ctx, userID))
}

// Ping checks the storage medium, if the store supports it.
func (s *Service) Ping(ctx context.Context) error {
	p, ok := s.store.(storage.Pinger)
	if !ok {
		return nil
	}
	ctx, cancel := s.backendContext(ctx)
	defer cancel()
	return backendError(p.Ping(ctx))
}
