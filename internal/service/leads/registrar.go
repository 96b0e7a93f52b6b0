package leads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/matheus-giordani/emme7-bot/entity"
	"github.com/matheus-giordani/emme7-bot/internal/lib/metrics"
	"github.com/matheus-giordani/emme7-bot/internal/lib/phone"
	"github.com/matheus-giordani/emme7-bot/internal/lib/sl"
)

const (
	ForwardSummary     = "summary"
	ForwardResponsible = "responsible_number"
	ForwardContact     = "responsible_contact"

	// staff notifications go out through the configured instance
	staffInstance = ""
)

type Repository interface {
	GetLeadByChat(ctx context.Context, chatID string) (*entity.CustomerLead, error)
	CreateLead(ctx context.Context, lead *entity.CustomerLead) (bool, error)
}

type Notifier interface {
	SendText(ctx context.Context, instance, number, text string) error
}

// Exporter is an optional extra sink for new leads.
type Exporter interface {
	ExportLead(ctx context.Context, lead *entity.CustomerLead) error
}

type Options struct {
	ForwardNumber     string
	ResponsibleNumber string
	Directory         *Directory
	Gate              *Gate
}

type Registrar struct {
	repo              Repository
	notifier          Notifier
	exporter          Exporter
	gate              *Gate
	directory         *Directory
	forwardNumber     string
	responsibleNumber string
	validate          *validator.Validate
	now               func() time.Time
	log               *slog.Logger
}

// Result of a registration. Warnings collect notification and export
// failures; they never undo the stored lead.
type Result struct {
	Lead     *entity.CustomerLead
	Created  bool
	Forwards []entity.Forward
	Warnings []string
}

func NewRegistrar(repo Repository, notifier Notifier, opts Options, log *slog.Logger) *Registrar {
	if opts.Directory == nil {
		opts.Directory = &Directory{}
	}
	if opts.Gate == nil {
		opts.Gate = NewGate(nil)
	}
	return &Registrar{
		repo:              repo,
		notifier:          notifier,
		gate:              opts.Gate,
		directory:         opts.Directory,
		forwardNumber:     phone.Digits(opts.ForwardNumber),
		responsibleNumber: phone.Digits(opts.ResponsibleNumber),
		validate:          validator.New(),
		now:               time.Now,
		log:               log.With(sl.Module("service.leads")),
	}
}

func (r *Registrar) SetExporter(exporter Exporter) {
	r.exporter = exporter
}

func (r *Registrar) Gate() *Gate {
	return r.gate
}

func (r *Registrar) Directory() *Directory {
	return r.directory
}

func (r *Registrar) ForwardNumber() string {
	return r.forwardNumber
}

func (r *Registrar) ResponsibleNumber() string {
	return r.responsibleNumber
}

// Register stores the lead of a chat once and notifies the store.
// A chat that already has a lead gets it back with Created false and no
// notification is sent.
func (r *Registrar) Register(ctx context.Context, chatID string, fields entity.LeadFields) (*Result, error) {
	fields = clean(fields)
	log := r.log.With(slog.String("chat_id", chatID))

	if missing := r.gate.Missing(fields); len(missing) > 0 {
		metrics.LeadsRegistered.WithLabelValues("incomplete").Inc()
		return nil, entity.MissingFieldsError(missing)
	}

	existing, err := r.repo.GetLeadByChat(ctx, chatID)
	if err != nil {
		return nil, &entity.PersistenceError{Op: "get lead", Err: err}
	}
	if existing != nil {
		metrics.LeadsRegistered.WithLabelValues("duplicate").Inc()
		log.Debug("lead already registered", slog.String("lead_id", existing.ID))
		return &Result{Lead: existing}, nil
	}

	lead := entity.NewCustomerLead(chatID, fields, r.now().UTC())
	if err = r.validate.Struct(lead); err != nil {
		metrics.LeadsRegistered.WithLabelValues("invalid").Inc()
		return nil, validationError(err)
	}

	created, err := r.repo.CreateLead(ctx, lead)
	if err != nil {
		metrics.LeadsRegistered.WithLabelValues("error").Inc()
		return nil, &entity.PersistenceError{Op: "create lead", Err: err}
	}
	if !created {
		// a concurrent registration won
		existing, err = r.repo.GetLeadByChat(ctx, chatID)
		if err != nil {
			return nil, &entity.PersistenceError{Op: "get lead", Err: err}
		}
		metrics.LeadsRegistered.WithLabelValues("duplicate").Inc()
		return &Result{Lead: existing}, nil
	}
	metrics.LeadsRegistered.WithLabelValues("created").Inc()
	log.Info("lead registered", slog.String("lead_id", lead.ID))

	result := &Result{Lead: lead, Created: true}
	r.notify(ctx, lead, fields.ResponsibleContact, result)

	if r.exporter != nil {
		if err = r.exporter.ExportLead(ctx, lead); err != nil {
			log.Warn("lead export", sl.Err(err))
			result.Warnings = append(result.Warnings, fmt.Sprintf("Falha ao exportar lead: %v", err))
		}
	}
	return result, nil
}

type target struct {
	forward entity.Forward
	text    string
}

// notify sends the summary and the responsible message concurrently so a
// slow or failing number never holds back the other.
func (r *Registrar) notify(ctx context.Context, lead *entity.CustomerLead, contactID string, result *Result) {
	var targets []target
	if r.forwardNumber != "" {
		targets = append(targets, target{
			forward: entity.Forward{Type: ForwardSummary, Phone: r.forwardNumber, Label: "info_forward_number"},
			text:    Summary(lead),
		})
	} else {
		result.Warnings = append(result.Warnings, "Número de resumo da loja (STORE_INFO_FORWARD_NUMBER) não configurado.")
	}

	contact, found := r.directory.Resolve(contactID)
	switch {
	case found:
		targets = append(targets, target{
			forward: entity.Forward{Type: ForwardContact, Phone: contact.Phone, Label: contact.Name, Role: contact.Role},
			text:    ResponsibleMessage(lead, contact.Name),
		})
	case r.responsibleNumber != "":
		targets = append(targets, target{
			forward: entity.Forward{Type: ForwardResponsible, Phone: r.responsibleNumber, Label: ForwardResponsible},
			text:    ResponsibleMessage(lead, ""),
		})
	default:
		result.Warnings = append(result.Warnings, "Número do responsável (STORE_RESPONSIBLE_NUMBER) não configurado.")
	}
	if contactID != "" && !found {
		result.Warnings = append(result.Warnings, fmt.Sprintf("Contato '%s' não encontrado em STORE_CONTACT_ROUTING.", contactID))
	}

	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i := range targets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.notifier.SendText(ctx, staffInstance, targets[i].forward.Phone, targets[i].text)
		}(i)
	}
	wg.Wait()

	for i, t := range targets {
		if errs[i] != nil {
			r.log.With(
				slog.String("lead_id", lead.ID),
				slog.String("target", t.forward.Type),
				slog.String("phone", t.forward.Phone),
			).Warn("lead notification failed", sl.Err(errs[i]))
			result.Warnings = append(result.Warnings, fmt.Sprintf("Falha ao notificar %s: %v", t.forward.Phone, errs[i]))
			continue
		}
		result.Forwards = append(result.Forwards, t.forward)
	}
}

func clean(f entity.LeadFields) entity.LeadFields {
	f.Name = strings.TrimSpace(f.Name)
	f.Phone = phone.Digits(f.Phone)
	f.Email = strings.TrimSpace(f.Email)
	f.City = strings.TrimSpace(f.City)
	f.ProductInterest = strings.TrimSpace(f.ProductInterest)
	f.BudgetRange = strings.TrimSpace(f.BudgetRange)
	f.PreferredContactTime = strings.TrimSpace(f.PreferredContactTime)
	f.Notes = strings.TrimSpace(f.Notes)
	f.ResponsibleContact = strings.TrimSpace(f.ResponsibleContact)
	return f
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &entity.ValidationError{Field: fe.Field(), Reason: fe.Tag()}
	}
	return &entity.ValidationError{Reason: err.Error()}
}

// Outcome converts a registration into the report handed back to the agent.
func Outcome(res *Result, err error) entity.LeadOutcome {
	if err != nil {
		var v *entity.ValidationError
		if errors.As(err, &v) && v.Reason == "required" {
			return entity.LeadOutcome{
				Missing: strings.Split(v.Field, ","),
				Message: "Dados insuficientes para registrar o lead.",
			}
		}
		if errors.As(err, &v) {
			return entity.LeadOutcome{Message: fmt.Sprintf("Dado inválido: %s", v.Field), Errors: []string{v.Error()}}
		}
		return entity.LeadOutcome{Message: "Não foi possível registrar o lead agora."}
	}
	return entity.LeadOutcome{
		OK:          len(res.Warnings) == 0,
		LeadID:      res.Lead.ID,
		Duplicate:   !res.Created,
		ForwardedTo: res.Forwards,
		Errors:      res.Warnings,
	}
}
