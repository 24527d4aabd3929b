// Package paramstore resolves workflow credentials. Workflow rows store a
// parameter reference instead of a plaintext bearer token; the token itself
// lives in SSM.
package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// refPrefix marks a credential value as an SSM parameter reference. Values
// without it are treated as literal tokens, which keeps dev setups working.
const refPrefix = "ssm:"

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Resolver turns a workflow credential reference into a bearer token.
// Consumers should depend on this interface rather than the concrete *Client
// so they remain testable without real AWS calls.
type Resolver interface {
	ResolveCredential(ctx context.Context, ref string) (string, error)
}

// Client wraps an AWS SSM API for credential retrieval.
type Client struct {
	api ssmAPI
}

// New creates a Client with the given SSM API implementation.
func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

// ResolveCredential returns the bearer token behind ref. References carry the
// ssm: prefix; anything else passes through unchanged.
func (c *Client) ResolveCredential(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", errors.New("paramstore: credential reference is required")
	}
	if !strings.HasPrefix(ref, refPrefix) {
		return ref, nil
	}

	value, err := c.getParameter(ctx, strings.TrimPrefix(ref, refPrefix))
	if err != nil {
		return "", err
	}
	if value == "" {
		return "", fmt.Errorf("paramstore: credential parameter %q is empty", ref)
	}
	return value, nil
}

func (c *Client) getParameter(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, nil
}
