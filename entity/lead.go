package entity

import (
	"time"

	"github.com/google/uuid"
)

// CustomerLead is created once per completed intake and never modified.
type CustomerLead struct {
	ID                   string    `json:"id" bson:"_id"`
	ChatID               string    `json:"chat_id" bson:"chat_id" validate:"required"`
	Name                 string    `json:"name" bson:"name" validate:"required,max=120"`
	Phone                string    `json:"phone" bson:"phone" validate:"required,numeric,min=8,max=20"`
	Email                string    `json:"email,omitempty" bson:"email,omitempty" validate:"omitempty,email,max=160"`
	City                 string    `json:"city,omitempty" bson:"city,omitempty" validate:"max=120"`
	ProductInterest      string    `json:"product_interest,omitempty" bson:"product_interest,omitempty" validate:"max=160"`
	BudgetRange          string    `json:"budget_range,omitempty" bson:"budget_range,omitempty" validate:"max=64"`
	PreferredContactTime string    `json:"preferred_contact_time,omitempty" bson:"preferred_contact_time,omitempty" validate:"max=32"`
	Notes                string    `json:"notes,omitempty" bson:"notes,omitempty"`
	CreatedAt            time.Time `json:"created_at" bson:"created_at"`
}

// LeadFields is what the agent collected about the customer so far.
type LeadFields struct {
	Name                 string `json:"customer_name" jsonschema:"required" jsonschema_description:"Nome completo do cliente"`
	Phone                string `json:"customer_phone,omitempty" jsonschema_description:"Telefone/WhatsApp do cliente"`
	City                 string `json:"customer_city,omitempty" jsonschema_description:"Cidade ou bairro do cliente"`
	Email                string `json:"customer_email,omitempty" jsonschema_description:"E-mail do cliente"`
	ProductInterest      string `json:"product_interest,omitempty" jsonschema_description:"Produto ou ambiente de interesse"`
	BudgetRange          string `json:"budget_range,omitempty" jsonschema_description:"Faixa de orçamento informada"`
	PreferredContactTime string `json:"preferred_contact_time,omitempty" jsonschema_description:"Período preferido para contato"`
	Notes                string `json:"notes,omitempty" jsonschema_description:"Observações adicionais relevantes"`
	ResponsibleContact   string `json:"responsible_contact,omitempty" jsonschema_description:"Identificador opcional do contato interno que deve receber a notificação"`
}

const (
	LeadFieldName                 = "name"
	LeadFieldPhone                = "phone"
	LeadFieldEmail                = "email"
	LeadFieldCity                 = "city"
	LeadFieldProductInterest      = "product_interest"
	LeadFieldBudgetRange          = "budget_range"
	LeadFieldPreferredContactTime = "preferred_contact_time"
	LeadFieldNotes                = "notes"
)

// Value returns the field by its configuration name.
func (f LeadFields) Value(name string) (string, bool) {
	switch name {
	case LeadFieldName:
		return f.Name, true
	case LeadFieldPhone:
		return f.Phone, true
	case LeadFieldEmail:
		return f.Email, true
	case LeadFieldCity:
		return f.City, true
	case LeadFieldProductInterest:
		return f.ProductInterest, true
	case LeadFieldBudgetRange:
		return f.BudgetRange, true
	case LeadFieldPreferredContactTime:
		return f.PreferredContactTime, true
	case LeadFieldNotes:
		return f.Notes, true
	}
	return "", false
}

func NewCustomerLead(chatID string, f LeadFields, at time.Time) *CustomerLead {
	return &CustomerLead{
		ID:                   uuid.NewString(),
		ChatID:               chatID,
		Name:                 f.Name,
		Phone:                f.Phone,
		Email:                f.Email,
		City:                 f.City,
		ProductInterest:      f.ProductInterest,
		BudgetRange:          f.BudgetRange,
		PreferredContactTime: f.PreferredContactTime,
		Notes:                f.Notes,
		CreatedAt:            at,
	}
}

// Forward records one successful staff notification.
type Forward struct {
	Type  string `json:"type"`
	Phone string `json:"phone"`
	Label string `json:"label,omitempty"`
	Role  string `json:"role,omitempty"`
}

// LeadOutcome is reported back to the agent after a register-lead action.
type LeadOutcome struct {
	OK          bool      `json:"ok"`
	LeadID      string    `json:"lead_id,omitempty"`
	Duplicate   bool      `json:"duplicate,omitempty"`
	Missing     []string  `json:"missing,omitempty"`
	ForwardedTo []Forward `json:"forwarded_to,omitempty"`
	Errors      []string  `json:"errors,omitempty"`
	Message     string    `json:"message,omitempty"`
}
