package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chamada/internal/telephony"
	"chamada/pkg/logger"
)

// TransferHuman hands the callee over to a human operator.
type TransferHuman struct {
	call      CallContext
	transfers telephony.Transferer
	timeout   time.Duration
}

func NewTransferHuman(call CallContext, t telephony.Transferer) *TransferHuman {
	return &TransferHuman{call: call, transfers: t, timeout: 30 * time.Second}
}

func (*TransferHuman) Name() string { return "transfer_human" }

func (*TransferHuman) Description() string {
	return "Transfer the call to a human colleague. Use when the person asks for a human or the request is outside what you can handle."
}

func (*TransferHuman) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reason": map[string]any{
				"type":        "string",
				"description": "Short reason for the transfer.",
			},
		},
	}
}

type transferResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Call returns the outcome as a tool result; provider failures are reported
// to the model rather than returned as errors.
func (t *TransferHuman) Call(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		Reason string `json:"reason"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, fmt.Errorf("agent: transfer_human arguments: %w", err)
		}
	}
	log := logger.From(ctx).With("call_id", t.call.CallID, "room", t.call.RoomName)

	if t.call.TransferTo == "" {
		log.Warn("transfer requested but no transfer number configured", "reason", in.Reason)
		return transferResult{Error: "transfer number not configured"}, nil
	}
	if t.call.ParticipantIdentity == "" || t.transfers == nil {
		log.Error("transfer requested without a SIP participant", "reason", in.Reason)
		return transferResult{Error: "no phone participant to transfer"}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	log.Info("transferring call to human", "reason", in.Reason)
	err := t.transfers.Transfer(ctx, telephony.TransferRequest{
		Room:                t.call.RoomName,
		ParticipantIdentity: t.call.ParticipantIdentity,
		To:                  t.call.TransferTo,
	})
	if err != nil {
		log.Error("transfer failed", "err", err, "provider_meta", telephony.ProviderMeta(err))
		return transferResult{Error: "transfer failed"}, nil
	}
	return transferResult{OK: true}, nil
}
