// Package auth supplies SciServer tokens and resolves them to keystone users.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoToken is returned by providers that have nothing to offer.
var ErrNoToken = errors.New("no token available")

// Static always returns the same token.
type Static string

func (s Static) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// Env reads the token from an environment variable on every call.
type Env string

func (e Env) Token(context.Context) (string, error) {
	if v := strings.TrimSpace(os.Getenv(string(e))); v != "" {
		return v, nil
	}
	return "", ErrNoToken
}

// File reads the keystone token file written into SciServer Compute containers.
type File string

func (f File) Token(context.Context) (string, error) {
	data, err := os.ReadFile(string(f))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	if v := strings.TrimSpace(string(data)); v != "" {
		return v, nil
	}
	return "", ErrNoToken
}

// Provider is the shape shared by every token source here.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// Chain returns the first token any provider yields.
type Chain []Provider

func (c Chain) Token(ctx context.Context) (string, error) {
	for _, p := range c {
		tok, err := p.Token(ctx)
		if errors.Is(err, ErrNoToken) {
			continue
		}
		if err != nil {
			return "", err
		}
		return tok, nil
	}
	return "", ErrNoToken
}
