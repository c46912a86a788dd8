package calls

import "encoding/json"

// DefaultCustomerName is used when the caller does not give a name.
// It carries no identity and is never hashed.
const DefaultCustomerName = "Website User"

// PersonaTag is the whitelisted persona label accepted from the front-end.
type PersonaTag string

const (
	PersonaClinic     PersonaTag = "clinica"
	PersonaDentist    PersonaTag = "dentist"
	PersonaSales      PersonaTag = "vendedor"
	PersonaSalesEN    PersonaTag = "sales"
	PersonaRestaurant PersonaTag = "restaurante"
	PersonaGeneric    PersonaTag = "generic"
	PersonaAssistant  PersonaTag = "assistente"
	PersonaCustom     PersonaTag = "custom"
)

// KnownPersonaTags lists every accepted persona label.
func KnownPersonaTags() []PersonaTag {
	return []PersonaTag{
		PersonaClinic, PersonaDentist,
		PersonaSales, PersonaSalesEN,
		PersonaRestaurant, PersonaGeneric, PersonaAssistant,
		PersonaCustom,
	}
}

func (p PersonaTag) Valid() bool {
	for _, t := range KnownPersonaTags() {
		if p == t {
			return true
		}
	}
	return false
}

// CustomPayload describes the agent for the "custom" persona.
type CustomPayload struct {
	Identity string `json:"identity" validate:"required,max=200"`
	Target   string `json:"target" validate:"required,max=500"`
	Reason   string `json:"reason" validate:"required,max=500"`
	Accent   string `json:"accent,omitempty" validate:"max=40"`
}

// CallRequest is an already validated and normalized request to place a call.
//
// Invariants:
// - PhoneNumber is E.164.
// - Persona is one of KnownPersonaTags.
type CallRequest struct {
	PhoneNumber  string         `json:"phone_number"`
	Persona      PersonaTag     `json:"persona"`
	CustomerName string         `json:"customer_name"`
	Instructions string         `json:"instructions,omitempty"`
	Custom       *CustomPayload `json:"custom,omitempty"`
}

// JobMetadata is the JSON document attached to an agent dispatch job.
type JobMetadata struct {
	PhoneNumber      string         `json:"phone_number"`
	Persona          PersonaTag     `json:"persona"`
	CustomerName     string         `json:"customer_name"`
	Instructions     string         `json:"instructions,omitempty"`
	Custom           *CustomPayload `json:"custom,omitempty"`
	WebsiteRequestID string         `json:"website_request_id"`
}

func (r CallRequest) Metadata(requestID string) JobMetadata {
	return JobMetadata{
		PhoneNumber:      r.PhoneNumber,
		Persona:          r.Persona,
		CustomerName:     r.CustomerName,
		Instructions:     r.Instructions,
		Custom:           r.Custom,
		WebsiteRequestID: requestID,
	}
}

// ParseJobMetadata decodes dispatch metadata. Missing fields fall back to
// fallbackPhone and DefaultCustomerName.
func ParseJobMetadata(raw string, fallbackPhone string) (JobMetadata, error) {
	var m JobMetadata
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return JobMetadata{PhoneNumber: fallbackPhone, Persona: PersonaGeneric, CustomerName: DefaultCustomerName}, err
		}
	}
	if m.PhoneNumber == "" {
		m.PhoneNumber = fallbackPhone
	}
	if m.CustomerName == "" {
		m.CustomerName = DefaultCustomerName
	}
	if !m.Persona.Valid() {
		m.Persona = PersonaGeneric
	}
	return m, nil
}

func (m JobMetadata) Request() CallRequest {
	return CallRequest{
		PhoneNumber:  m.PhoneNumber,
		Persona:      m.Persona,
		CustomerName: m.CustomerName,
		Instructions: m.Instructions,
		Custom:       m.Custom,
	}
}
