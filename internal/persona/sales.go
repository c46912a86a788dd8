package persona

import (
	"fmt"
	"strings"
	"time"

	"chamada/internal/calls"
)

type sales struct{}

func (sales) Kind() Kind                     { return Sales }
func (sales) Voice(calls.JobMetadata) string { return "nova" }
func (sales) Temperature() float64           { return 0.8 }

func (sales) Greeting(meta calls.JobMetadata) string {
	hello := "Olá, bom dia!"
	if name := namedCustomer(meta); name != "" {
		hello = fmt.Sprintf("Olá %s, bom dia!", name)
	}
	return hello + " Ligo da Chamada.ai a propósito do pedido de demonstração que fez. Tem dois minutos para falarmos de assistentes de voz para o seu negócio?"
}

func (sales) SystemPrompt(meta calls.JobMetadata, _ time.Time) string {
	var b strings.Builder
	b.WriteString("Papel: és um comercial da Chamada.ai e apresentas o serviço de chamadas automáticas com assistentes de voz. ")
	b.WriteString(baseInstructions)
	if name := namedCustomer(meta); name != "" {
		fmt.Fprintf(&b, "\nTrata o cliente por '%s'.", name)
	}
	if meta.WebsiteRequestID != "" {
		fmt.Fprintf(&b, "\nReferência do pedido: %s", meta.WebsiteRequestID)
	}
	if meta.Instructions != "" {
		fmt.Fprintf(&b, "\nIndicações para esta chamada: %s", meta.Instructions)
	}
	b.WriteString("\n\nObjetivo da chamada:")
	b.WriteString("\n1. Apresentar o serviço e os casos de uso possíveis.")
	b.WriteString("\n2. Perceber o interesse e o tipo de negócio do cliente.")
	b.WriteString("\n3. Propor uma demonstração mais completa.")
	b.WriteString("\n\nSê paciente, não insistas se o cliente não mostrar interesse e agradece o tempo no fim.\n\n")
	b.WriteString(transferHint)
	return b.String()
}
