package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

type fakeSSM struct {
	out  *ssm.GetParameterOutput
	err  error
	last *ssm.GetParameterInput
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.last = in
	return f.out, f.err
}

func TestSecret(t *testing.T) {
	f := &fakeSSM{out: &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: aws.String("s3cret")}}}
	c, err := New(f)
	require.NoError(t, err)

	v, err := c.Secret(context.Background(), " /mmchat/jwt ")
	require.NoError(t, err)
	require.Equal(t, "s3cret", v)
	require.Equal(t, "/mmchat/jwt", *f.last.Name)
	require.True(t, *f.last.WithDecryption)
}

func TestSecret_Failures(t *testing.T) {
	c, err := New(&fakeSSM{err: errors.New("throttled")})
	require.NoError(t, err)
	_, err = c.Secret(context.Background(), "p")
	require.ErrorContains(t, err, "throttled")

	c, err = New(&fakeSSM{out: &ssm.GetParameterOutput{Parameter: &types.Parameter{}}})
	require.NoError(t, err)
	_, err = c.Secret(context.Background(), "p")
	require.ErrorContains(t, err, "no value")

	_, err = c.Secret(context.Background(), "")
	require.ErrorContains(t, err, "required")

	_, err = New(nil)
	require.Error(t, err)
}
