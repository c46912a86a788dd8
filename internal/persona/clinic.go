package persona

import (
	"fmt"
	"strings"
	"time"

	_ "time/tzdata"

	"chamada/internal/calls"
)

var lisbon = mustLocation("Europe/Lisbon")

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

var weekdaysPT = [...]string{
	time.Sunday:    "domingo",
	time.Monday:    "segunda-feira",
	time.Tuesday:   "terça-feira",
	time.Wednesday: "quarta-feira",
	time.Thursday:  "quinta-feira",
	time.Friday:    "sexta-feira",
	time.Saturday:  "sábado",
}

type clinic struct{}

func (clinic) Kind() Kind                     { return Clinic }
func (clinic) Voice(calls.JobMetadata) string { return "alloy" }
func (clinic) Temperature() float64           { return 0.6 }

func (clinic) Greeting(meta calls.JobMetadata) string {
	name := namedCustomer(meta)
	if name == "" {
		name = "caro utente"
	}
	return fmt.Sprintf("Olá %s, fala a Clínica Sorriso. Estamos a ligar porque pediu uma demonstração no nosso site. Em que posso ajudar?", name)
}

func (clinic) SystemPrompt(meta calls.JobMetadata, now time.Time) string {
	local := now.In(lisbon)

	var b strings.Builder
	b.WriteString("Papel: és o assistente virtual da Clínica Dentária Sorriso e estás a ligar a um utente que pediu uma demonstração no site. ")
	b.WriteString(baseInstructions)
	fmt.Fprintf(&b, "\nHora atual em Lisboa: %s, %s.\n", local.Format("15:04"), weekdaysPT[local.Weekday()])
	if name := namedCustomer(meta); name != "" {
		fmt.Fprintf(&b, "\nTrata o utente por '%s'.", name)
	}
	if meta.Instructions != "" {
		fmt.Fprintf(&b, "\nIndicações para esta chamada: %s", meta.Instructions)
	}
	b.WriteString("\n\nObjetivo da chamada:")
	b.WriteString("\n1. Confirma que o utente pediu a demonstração da Clínica Sorriso.")
	b.WriteString("\n2. Explica em poucas palavras que o assistente pode marcar consultas e dar informações gerais.")
	b.WriteString("\n3. Responde a perguntas simples sobre serviços (consultas gerais, limpezas, branqueamentos).")
	b.WriteString("\n4. Não confirmes horários nem marques consultas reais.")
	b.WriteString("\n5. Mantém a conversa curta e cordial.\n\n")
	b.WriteString(transferHint)
	return b.String()
}
