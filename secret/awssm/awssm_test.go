package awssm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/llmgate"
	"github.com/ineyio/llmgate/secret/awssm"
)

type fakeAPI struct {
	secrets map[string]*secretsmanager.GetSecretValueOutput
	err     error
	asked   []string
}

func (f *fakeAPI) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	id := aws.ToString(in.SecretId)
	f.asked = append(f.asked, id)
	if f.err != nil {
		return nil, f.err
	}
	out, ok := f.secrets[id]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("not found")}
	}
	return out, nil
}

func TestProvider_GetSecret(t *testing.T) {
	api := &fakeAPI{secrets: map[string]*secretsmanager.GetSecretValueOutput{
		"prod/AnthropicKey": {SecretString: aws.String("sk-ant")},
		"prod/Binary":       {SecretBinary: []byte("sk-bin")},
		"prod/Empty":        {SecretString: aws.String("")},
	}}
	p := awssm.New(api, awssm.WithPrefix("prod/"))
	ctx := context.Background()

	v, err := p.GetSecret(ctx, "AnthropicKey")
	require.NoError(t, err)
	assert.Equal(t, "sk-ant", v)

	v, err = p.GetSecret(ctx, "Binary")
	require.NoError(t, err)
	assert.Equal(t, "sk-bin", v)

	_, err = p.GetSecret(ctx, "Empty")
	assert.ErrorIs(t, err, llmgate.ErrSecretNotFound)

	_, err = p.GetSecret(ctx, "Missing")
	assert.ErrorIs(t, err, llmgate.ErrSecretNotFound)

	assert.Equal(t, []string{"prod/AnthropicKey", "prod/Binary", "prod/Empty", "prod/Missing"}, api.asked)
}

func TestProvider_ServiceError(t *testing.T) {
	p := awssm.New(&fakeAPI{err: errors.New("AccessDeniedException")})

	_, err := p.GetSecret(context.Background(), "AnthropicKey")
	require.Error(t, err)
	assert.NotErrorIs(t, err, llmgate.ErrSecretNotFound)
	assert.Contains(t, err.Error(), "AccessDeniedException")
}
