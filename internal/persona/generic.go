package persona

import (
	"fmt"
	"strings"
	"time"

	"chamada/internal/calls"
)

var displayNames = map[calls.PersonaTag]string{
	calls.PersonaRestaurant: "agente de apoio a restaurantes",
	calls.PersonaAssistant:  "assistente virtual",
	calls.PersonaGeneric:    "assistente virtual",
}

func displayName(tag calls.PersonaTag) string {
	if n, ok := displayNames[tag]; ok {
		return n
	}
	return "assistente virtual"
}

type generic struct{}

func (generic) Kind() Kind                     { return Generic }
func (generic) Voice(calls.JobMetadata) string { return "shimmer" }
func (generic) Temperature() float64           { return 0.7 }

func (generic) Greeting(meta calls.JobMetadata) string {
	hello := "Olá!"
	if name := namedCustomer(meta); name != "" {
		hello = fmt.Sprintf("Olá %s!", name)
	}
	return fmt.Sprintf("%s Sou o seu %s para esta demonstração. Em que posso ser útil?", hello, displayName(meta.Persona))
}

func (generic) SystemPrompt(meta calls.JobMetadata, _ time.Time) string {
	role := displayName(meta.Persona)
	name := namedCustomer(meta)
	if name == "" {
		name = "Utilizador"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "És um %s numa chamada de demonstração. O cliente chama-se %s e pediu esta demonstração no nosso site.\n\n", role, name)
	b.WriteString("Instruções:\n")
	fmt.Fprintf(&b, "1. Apresenta-te como %s e confirma que se trata de uma demonstração.\n", role)
	b.WriteString("2. Dá exemplos concretos de tarefas que poderias fazer no dia a dia (reservas, pedidos, informações de horário).\n")
	b.WriteString("3. Mantém a conversa curta e focada.\n")
	if meta.Instructions != "" {
		fmt.Fprintf(&b, "4. Indicações para esta chamada: %s\n", meta.Instructions)
	}
	b.WriteString("\n")
	b.WriteString(transferHint)
	b.WriteString("\n")
	b.WriteString(baseInstructions)
	return b.String()
}
