package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poe-talk-go/internal/config"
	"poe-talk-go/internal/model"
)

func TestConnectionTestSucceeds(t *testing.T) {
	client := &fakeClient{chatReply: "Hello!"}
	svc := NewConnectionService(config.PoeConfig{APIKey: "pk_test", BotName: "TestBot"}, client)

	require.NoError(t, svc.Test(context.Background()))
	require.Len(t, client.gotMessages, 1)
	assert.Equal(t, model.RoleUser, client.gotMessages[0].Role)
	assert.Equal(t, "Hi", client.gotMessages[0].Content)
}

func TestConnectionTestRequiresAPIKey(t *testing.T) {
	svc := NewConnectionService(config.PoeConfig{}, &fakeClient{})
	var ve *model.ValidationError
	require.ErrorAs(t, svc.Test(context.Background()), &ve)
}

func TestConnectionTestEmptyReplyFails(t *testing.T) {
	svc := NewConnectionService(config.PoeConfig{APIKey: "pk_test"}, &fakeClient{chatReply: ""})
	var te *model.TransportError
	require.ErrorAs(t, svc.Test(context.Background()), &te)
}

func TestConnectionTestPropagatesTransportErrors(t *testing.T) {
	client := &fakeClient{chatErr: &model.TimeoutError{Message: "request timed out, no proxy configured"}}
	svc := NewConnectionService(config.PoeConfig{APIKey: "pk_test"}, client)
	var te *model.TimeoutError
	require.ErrorAs(t, svc.Test(context.Background()), &te)
}

func TestValidateAPIKeyFormat(t *testing.T) {
	assert.NoError(t, ValidateAPIKeyFormat("pk_abc123"))
	assert.NoError(t, ValidateAPIKeyFormat("sk_abc123"))

	var ve *model.ValidationError
	require.ErrorAs(t, ValidateAPIKeyFormat(""), &ve)
	require.ErrorAs(t, ValidateAPIKeyFormat("abc123"), &ve)
}
