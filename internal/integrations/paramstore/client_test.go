package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

type fakeSSM struct {
	lastInput *ssm.GetParameterInput
	value     string
	err       error
}

func (f *fakeSSM) GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.lastInput = in
	if f.err != nil {
		return nil, f.err
	}
	return &ssm.GetParameterOutput{
		Parameter: &types.Parameter{Value: &f.value},
	}, nil
}

func TestNew_RequiresAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestResolveCredential_LiteralPassesThrough(t *testing.T) {
	api := &fakeSSM{}
	c, err := New(api)
	require.NoError(t, err)

	token, err := c.ResolveCredential(context.Background(), "sk-literal-token")
	require.NoError(t, err)
	require.Equal(t, "sk-literal-token", token)
	require.Nil(t, api.lastInput)
}

func TestResolveCredential_ReferenceFetchesDecrypted(t *testing.T) {
	api := &fakeSSM{value: "sk-from-ssm"}
	c, err := New(api)
	require.NoError(t, err)

	token, err := c.ResolveCredential(context.Background(), "ssm:/chat/workers/wk-1/token")
	require.NoError(t, err)
	require.Equal(t, "sk-from-ssm", token)
	require.NotNil(t, api.lastInput)
	require.Equal(t, "/chat/workers/wk-1/token", *api.lastInput.Name)
	require.NotNil(t, api.lastInput.WithDecryption)
	require.True(t, *api.lastInput.WithDecryption)
}

func TestResolveCredential_EmptyRefRejected(t *testing.T) {
	c, err := New(&fakeSSM{})
	require.NoError(t, err)

	_, err = c.ResolveCredential(context.Background(), "   ")
	require.Error(t, err)
}

func TestResolveCredential_EmptyParameterRejected(t *testing.T) {
	c, err := New(&fakeSSM{value: ""})
	require.NoError(t, err)

	_, err = c.ResolveCredential(context.Background(), "ssm:/chat/empty")
	require.ErrorContains(t, err, "empty")
}

func TestResolveCredential_APIErrorWrapped(t *testing.T) {
	boom := errors.New("access denied")
	c, err := New(&fakeSSM{err: boom})
	require.NoError(t, err)

	_, err = c.ResolveCredential(context.Background(), "ssm:/chat/secret")
	require.ErrorIs(t, err, boom)
}
