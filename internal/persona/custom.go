package persona

import (
	"fmt"
	"strings"
	"time"

	"chamada/internal/calls"
)

// accentVoices picks a voice from the accent requested in the custom payload.
var accentVoices = map[string]string{
	"pt-pt": "coral",
	"pt-br": "shimmer",
	"en":    "alloy",
	"en-us": "alloy",
	"en-gb": "ballad",
	"es":    "sage",
}

type custom struct{}

func (custom) Kind() Kind           { return Custom }
func (custom) Temperature() float64 { return 0.7 }

func (custom) Voice(meta calls.JobMetadata) string {
	if meta.Custom != nil {
		if v, ok := accentVoices[strings.ToLower(strings.TrimSpace(meta.Custom.Accent))]; ok {
			return v
		}
	}
	return "coral"
}

func (custom) Greeting(meta calls.JobMetadata) string {
	who := "a nossa equipa"
	if meta.Custom != nil && meta.Custom.Identity != "" {
		who = meta.Custom.Identity
	}
	if name := namedCustomer(meta); name != "" {
		return fmt.Sprintf("Olá %s, fala %s. Tem um minuto?", name, who)
	}
	return fmt.Sprintf("Olá, fala %s. Tem um minuto?", who)
}

func (custom) SystemPrompt(meta calls.JobMetadata, _ time.Time) string {
	var b strings.Builder
	if c := meta.Custom; c != nil {
		fmt.Fprintf(&b, "Identidade: %s.\n", c.Identity)
		fmt.Fprintf(&b, "Estás a ligar para: %s.\n", c.Target)
		fmt.Fprintf(&b, "Motivo da chamada: %s.\n", c.Reason)
		if c.Accent != "" {
			fmt.Fprintf(&b, "Sotaque pretendido: %s.\n", c.Accent)
		}
	}
	if name := namedCustomer(meta); name != "" {
		fmt.Fprintf(&b, "Trata o interlocutor por '%s'.\n", name)
	}
	if meta.Instructions != "" {
		fmt.Fprintf(&b, "Indicações adicionais: %s\n", meta.Instructions)
	}
	b.WriteString("\n")
	b.WriteString(transferHint)
	b.WriteString("\n")
	b.WriteString(baseInstructions)
	return b.String()
}
