// Package prices looks up marketplace offers for the sales agent.
package prices

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/matheus-giordani/emme7-bot/entity"
	"github.com/matheus-giordani/emme7-bot/internal/lib/sl"
)

const (
	DefaultResults = 3
	MaxResults     = 10
)

// Provider searches one marketplace.
type Provider interface {
	Site() string
	Search(ctx context.Context, query string, limit int) ([]entity.PriceOffer, error)
}

// Service asks every provider at once. A failing provider becomes an error
// entry in the report and never fails the whole search.
type Service struct {
	providers []Provider
	timeout   time.Duration
	log       *slog.Logger
}

func NewService(providers []Provider, timeout time.Duration, log *slog.Logger) *Service {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Service{
		providers: providers,
		timeout:   timeout,
		log:       log.With(sl.Module("service.prices")),
	}
}

func (s *Service) Search(ctx context.Context, query string, limit int) entity.PriceReport {
	query = strings.TrimSpace(query)
	switch {
	case limit < 1:
		limit = DefaultResults
	case limit > MaxResults:
		limit = MaxResults
	}

	report := entity.PriceReport{
		Query:     query,
		Providers: make([]entity.SitePrices, len(s.providers)),
	}

	var g errgroup.Group
	for i, p := range s.providers {
		g.Go(func() error {
			report.Providers[i] = s.searchOne(ctx, p, query, limit)
			return nil
		})
	}
	_ = g.Wait()
	return report
}

func (s *Service) searchOne(ctx context.Context, p Provider, query string, limit int) entity.SitePrices {
	site := entity.SitePrices{Site: p.Site(), Status: entity.PriceStatusOK}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	offers, err := p.Search(ctx, query, limit)
	if err != nil {
		s.log.With(
			slog.String("site", p.Site()),
			slog.String("query", query),
		).Warn("price search failed", sl.Err(err))
		site.Status = entity.PriceStatusError
		site.Error = fmt.Sprintf("Não foi possível acessar %s.", p.Site())
		return site
	}
	if len(offers) > limit {
		offers = offers[:limit]
	}
	site.Results = offers
	if len(offers) == 0 {
		site.Message = "Nenhum produto encontrado"
	}
	return site
}

// FormatBRL writes value in Brazilian currency notation, e.g. R$ 1.234,56.
func FormatBRL(value float64) string {
	cents := int64(value*100 + 0.5)
	whole := cents / 100
	digits := fmt.Sprintf("%d", whole)

	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return fmt.Sprintf("R$ %s,%02d", b.String(), cents%100)
}
