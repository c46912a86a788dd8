package calls

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/nyaruka/phonenumbers"
)

// StartCallInput is the raw body of POST /api/start_call.
type StartCallInput struct {
	PhoneNumber  string         `json:"phone_number" validate:"required,max=32"`
	Persona      string         `json:"persona" validate:"required,persona"`
	CustomerName string         `json:"customer_name" validate:"max=120"`
	CustomPrompt string         `json:"custom_prompt" validate:"max=2000"`
	Custom       *CustomPayload `json:"custom" validate:"omitempty"`
}

var (
	ErrInvalidPhone  = errors.New("calls: invalid phone number")
	ErrInvalidInput  = errors.New("calls: invalid call request")
	ErrCustomMissing = errors.New("calls: custom persona requires custom payload")
)

// Validator turns raw input into a CallRequest. It holds no state besides
// the compiled validation rules and is safe for concurrent use.
type Validator struct {
	v             *validator.Validate
	defaultRegion string
}

func NewValidator(defaultRegion string) *Validator {
	if defaultRegion == "" {
		defaultRegion = "PT"
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("persona", func(fl validator.FieldLevel) bool {
		return PersonaTag(strings.ToLower(strings.TrimSpace(fl.Field().String()))).Valid()
	})
	return &Validator{v: v, defaultRegion: strings.ToUpper(defaultRegion)}
}

func (val *Validator) Validate(in StartCallInput) (CallRequest, error) {
	if err := val.v.Struct(in); err != nil {
		return CallRequest{}, describe(err)
	}

	persona := PersonaTag(strings.ToLower(strings.TrimSpace(in.Persona)))
	if persona == PersonaCustom && in.Custom == nil {
		return CallRequest{}, ErrCustomMissing
	}

	phone, err := val.NormalizePhone(in.PhoneNumber)
	if err != nil {
		return CallRequest{}, err
	}

	name := strings.TrimSpace(in.CustomerName)
	if name == "" {
		name = DefaultCustomerName
	}

	req := CallRequest{
		PhoneNumber:  phone,
		Persona:      persona,
		CustomerName: name,
		Instructions: strings.TrimSpace(in.CustomPrompt),
	}
	if in.Custom != nil {
		c := *in.Custom
		req.Custom = &c
	}
	return req, nil
}

// NormalizePhone returns the E.164 form of raw. Numbers without a country
// code are read in the validator's default region.
func (val *Validator) NormalizePhone(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "tel:")
	if strings.HasPrefix(s, "00") {
		s = "+" + s[2:]
	}
	if s == "" {
		return "", ErrInvalidPhone
	}

	if num, err := phonenumbers.Parse(s, val.defaultRegion); err == nil && phonenumbers.IsValidNumber(num) {
		return phonenumbers.Format(num, phonenumbers.E164), nil
	}
	// "351912345678": country code typed without the plus sign.
	if !strings.HasPrefix(s, "+") {
		if num, err := phonenumbers.Parse("+"+s, ""); err == nil && phonenumbers.IsValidNumber(num) {
			return phonenumbers.Format(num, phonenumbers.E164), nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
}

func describe(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	parts := make([]string, 0, len(ve))
	for _, fe := range ve {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", fe.Field()))
		case "persona":
			parts = append(parts, fmt.Sprintf("%s must be one of the supported personas", fe.Field()))
		case "max":
			parts = append(parts, fmt.Sprintf("%s is too long", fe.Field()))
		default:
			parts = append(parts, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(parts, "; "))
}
