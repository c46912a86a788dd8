// Package persona builds the system prompt, greeting and voice settings for
// each kind of outbound call.
package persona

import (
	"fmt"
	"time"

	"chamada/internal/calls"
)

// Kind is the closed set of persona strategies.
type Kind int

const (
	Clinic Kind = iota
	Sales
	Generic
	Custom
)

// Kinds lists every Kind. For must return a Persona for each of them.
func Kinds() []Kind { return []Kind{Clinic, Sales, Generic, Custom} }

func (k Kind) String() string {
	switch k {
	case Clinic:
		return "clinic"
	case Sales:
		return "sales"
	case Generic:
		return "generic"
	case Custom:
		return "custom"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// KindOf maps a front-end persona tag onto its strategy.
func KindOf(tag calls.PersonaTag) Kind {
	switch tag {
	case calls.PersonaClinic, calls.PersonaDentist:
		return Clinic
	case calls.PersonaSales, calls.PersonaSalesEN:
		return Sales
	case calls.PersonaCustom:
		return Custom
	default:
		return Generic
	}
}

// Persona renders the per-call text and voice settings for one Kind.
type Persona interface {
	Kind() Kind
	SystemPrompt(meta calls.JobMetadata, now time.Time) string
	Greeting(meta calls.JobMetadata) string
	Voice(meta calls.JobMetadata) string
	Temperature() float64
}

// For returns the Persona for k. It panics on a Kind outside Kinds().
func For(k Kind) Persona {
	switch k {
	case Clinic:
		return clinic{}
	case Sales:
		return sales{}
	case Generic:
		return generic{}
	case Custom:
		return custom{}
	}
	panic(fmt.Sprintf("persona: no implementation for %s", k))
}

// ForTag is For(KindOf(tag)).
func ForTag(tag calls.PersonaTag) Persona { return For(KindOf(tag)) }

// namedCustomer returns the customer name, or "" for the placeholder.
func namedCustomer(meta calls.JobMetadata) string {
	if meta.CustomerName == "" || meta.CustomerName == calls.DefaultCustomerName {
		return ""
	}
	return meta.CustomerName
}
