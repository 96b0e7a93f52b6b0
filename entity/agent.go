package entity

import (
	"context"
	"time"
)

// StoreContact is an internal contact that can receive lead notifications.
type StoreContact struct {
	Key          string `json:"key"`
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Role         string `json:"role,omitempty"`
	DisplayPhone string `json:"display_phone,omitempty"`
}

type StoreInfo struct {
	Name              string         `json:"name"`
	EntryPhone        string         `json:"entry_phone,omitempty"`
	ForwardNumber     string         `json:"info_forward_number,omitempty"`
	ResponsibleNumber string         `json:"responsible_number,omitempty"`
	Contacts          []StoreContact `json:"routing_contacts,omitempty"`
}

type CustomerInfo struct {
	Phone string `json:"phone"`
	Name  string `json:"name,omitempty"`
}

// AgentTurn is everything the sales agent sees for one batch.
type AgentTurn struct {
	Session  *ChatSession   `json:"-"`
	History  []ChatMessage  `json:"-"`
	Batch    []InboundEvent `json:"-"`
	Now      time.Time      `json:"-"`
	Store    StoreInfo      `json:"store"`
	Customer CustomerInfo   `json:"customer"`
	Lead     *CustomerLead  `json:"lead,omitempty"`
}

// LastText joins the texts of the current batch, oldest first.
func (t AgentTurn) LastText() string {
	text := ""
	for i, e := range t.Batch {
		if i > 0 {
			text += "\n"
		}
		text += e.Text
	}
	return text
}

// LeadHandler applies a register-lead action for the current session.
type LeadHandler func(ctx context.Context, fields LeadFields) LeadOutcome

// LeadAction is a register-lead action the agent took during its turn.
type LeadAction struct {
	Fields  LeadFields  `json:"fields"`
	Outcome LeadOutcome `json:"outcome"`
}

type AgentReply struct {
	Text   string      `json:"text,omitempty"`
	Action *LeadAction `json:"action,omitempty"`
}
