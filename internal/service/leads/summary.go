package leads

import (
	"fmt"
	"strings"

	"github.com/matheus-giordani/emme7-bot/entity"
)

// Summary is the text forwarded to the store's info number.
func Summary(lead *entity.CustomerLead) string {
	lines := []string{
		"Novo lead da loja de móveis:",
		"Nome: " + lead.Name,
		"Telefone: " + lead.Phone,
	}
	add := func(label, value string) {
		if value != "" {
			lines = append(lines, label+": "+value)
		}
	}
	add("Cidade/Bairro", lead.City)
	add("Interesse", lead.ProductInterest)
	add("Horário preferido", lead.PreferredContactTime)
	add("Orçamento", lead.BudgetRange)
	add("E-mail", lead.Email)
	add("Observações", lead.Notes)
	return strings.Join(lines, "\n")
}

// ResponsibleMessage is the short heads-up for the person who calls back.
func ResponsibleMessage(lead *entity.CustomerLead, contactName string) string {
	msg := fmt.Sprintf("Novo cliente aguardando atendimento. Dados: %s - %s.", lead.Name, lead.Phone)
	if lead.ProductInterest != "" {
		msg += fmt.Sprintf(" Interesse: %s.", lead.ProductInterest)
	}
	if lead.PreferredContactTime != "" {
		msg += fmt.Sprintf(" Melhor horário: %s.", lead.PreferredContactTime)
	}
	if contactName != "" {
		msg = fmt.Sprintf("Olá %s, ", contactName) + msg
	}
	return msg
}
