package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"chamada/internal/calls"
	"chamada/internal/config"
	"chamada/internal/dedup"
	"chamada/internal/transcript"
	"chamada/internal/webhook"
	"chamada/pkg/logger"
)

// sampleHistory is a short clinic conversation in session history format.
const sampleHistory = `{
  "items": [
    {"id": "item_001", "type": "message", "role": "assistant", "content": "Olá João Silva, da Clínica Sorriso. Como posso ajudar?"},
    {"id": "item_002", "type": "message", "role": "user", "content": "Gostaria de marcar uma consulta dentária"},
    {"id": "item_003", "type": "message", "role": "assistant", "content": "Claro! Que tipo de consulta precisa? Temos disponibilidade esta semana."},
    {"id": "item_004", "type": "message", "role": "user", "content": "Uma limpeza dentária, por favor."}
  ]
}`

func buildWebhookTestCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "webhook-test",
		Short: "Send a sample clinic transcript to WEBHOOK_URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config load failed: %w", err)
			}
			if cfg.Webhook.URL == "" {
				return errors.New("WEBHOOK_URL (or MAKE_WEBHOOK_URL) is not configured")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			ctx = logger.With(ctx, logger.New(logger.Options{Env: cfg.App.Env}))

			rec, err := sampleRecord(ctx, time.Now())
			if err != nil {
				return err
			}
			engine, err := webhook.New(webhook.Config{
				URL:         cfg.Webhook.URL,
				Secret:      cfg.Webhook.Secret,
				Timeout:     cfg.Webhook.Timeout,
				MaxAttempts: cfg.Webhook.MaxRetries,
			}, dedup.NewCache(time.Minute, 1))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sending %d-line transcript (outcome %s) to %s\n", rec.Turns, rec.Outcome, cfg.Webhook.URL)
			rep, err := engine.Deliver(ctx, rec)
			if err != nil {
				return fmt.Errorf("webhook test failed after %d attempt(s): %w", rep.Attempts, err)
			}
			fmt.Fprintf(out, "delivered: status %d after %d attempt(s)\n", rep.Status, rep.Attempts)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "Overall time budget including retries")
	return cmd
}

func sampleRecord(ctx context.Context, now time.Time) (calls.TranscriptRecord, error) {
	history, err := transcript.FromJSON([]byte(sampleHistory))
	if err != nil {
		return calls.TranscriptRecord{}, err
	}
	res := transcript.Format(ctx, history)
	an := transcript.Analyze(res)

	start := now.Add(-330 * time.Second).Truncate(time.Second)
	end := now.Truncate(time.Second)
	return calls.TranscriptRecord{
		CallID:          "test_call_" + uuid.NewString()[:8],
		RoomName:        "test_room",
		Persona:         calls.PersonaClinic,
		PhoneHash:       calls.HashIdentifier("+351933792547"),
		CustomerHash:    calls.HashIdentifier("João Silva (Teste)"),
		FormattedText:   res.Text,
		MessageCounts:   an.MessageCounts,
		Turns:           an.Turns,
		AvgMessageLen:   an.AvgMessageLen,
		StartTime:       start,
		EndTime:         end,
		DurationSeconds: end.Sub(start).Seconds(),
		Outcome:         transcript.Classify(res),
	}, nil
}
