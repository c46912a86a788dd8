package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransferHuman_NoNumberConfigured(t *testing.T) {
	tr := &fakeTransferer{}
	tool := NewTransferHuman(CallContext{RoomName: "r", ParticipantIdentity: "sip_1"}, tr)

	out, err := tool.Call(context.Background(), json.RawMessage(`{"reason":"x"}`))
	require.NoError(t, err)
	assert.False(t, out.(transferResult).OK)
	assert.Empty(t, tr.got)
}

func TestTransferHuman_ProviderFailureIsReported(t *testing.T) {
	tr := &fakeTransferer{err: errors.New("sip refused")}
	tool := NewTransferHuman(CallContext{RoomName: "r", ParticipantIdentity: "sip_1", TransferTo: "+351210000000"}, tr)

	out, err := tool.Call(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "transfer failed", out.(transferResult).Error)
}

func TestTransferHuman_BadArguments(t *testing.T) {
	tool := NewTransferHuman(CallContext{}, nil)
	_, err := tool.Call(context.Background(), json.RawMessage(`{`))
	assert.Error(t, err)
}
