package utils

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

type sendReq struct {
	RecipientID    string `validate:"required_without=ConversationID"`
	ConversationID string
	Text           string `validate:"max=5"`
}

func TestBindError(t *testing.T) {
	err := validator.New().Struct(sendReq{Text: "too long"})
	got, ok := BindError(err).([]CustomErrorResponse)
	require.True(t, ok)
	require.Len(t, got, 2)
	require.Equal(t, "RecipientID", got[0].Field)
	require.Equal(t, "Either RecipientID or ConversationID is required.", got[0].Message)
	require.Equal(t, "Must be at most 5 characters.", got[1].Message)

	require.Equal(t, "bad json", BindError(errors.New("bad json")))
}
