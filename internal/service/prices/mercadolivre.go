package prices

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/matheus-giordani/emme7-bot/entity"
)

const mercadoLivreSite = "Mercado Livre"

// MercadoLivre uses the marketplace's public search API.
type MercadoLivre struct {
	httpClient *resty.Client
	siteID     string
}

type MercadoLivreOptions struct {
	BaseURL     string
	SiteID      string
	AccessToken string
	Timeout     time.Duration
}

type mlSearchResponse struct {
	Results []struct {
		Title      string  `json:"title"`
		Price      float64 `json:"price"`
		CurrencyID string  `json:"currency_id"`
		Permalink  string  `json:"permalink"`
	} `json:"results"`
}

func NewMercadoLivre(opts MercadoLivreOptions) *MercadoLivre {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.mercadolibre.com"
	}
	if opts.SiteID == "" {
		opts.SiteID = "MLB"
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetHeader("Accept", "application/json").
		SetHeader("Accept-Language", "pt-BR,pt;q=0.9").
		SetTimeout(opts.Timeout)
	if opts.AccessToken != "" {
		client.SetAuthToken(opts.AccessToken)
	}
	return &MercadoLivre{httpClient: client, siteID: opts.SiteID}
}

func (m *MercadoLivre) Site() string {
	return mercadoLivreSite
}

func (m *MercadoLivre) Search(ctx context.Context, query string, limit int) ([]entity.PriceOffer, error) {
	var out mlSearchResponse
	resp, err := m.httpClient.R().
		SetContext(ctx).
		SetPathParam("site", m.siteID).
		SetQueryParams(map[string]string{
			"q":     query,
			"limit": strconv.Itoa(limit),
		}).
		SetResult(&out).
		Get("/sites/{site}/search")
	if err != nil {
		return nil, fmt.Errorf("mercado livre search: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("mercado livre search: status %d", resp.StatusCode())
	}

	offers := make([]entity.PriceOffer, 0, len(out.Results))
	for _, r := range out.Results {
		if r.Title == "" || r.Permalink == "" {
			continue
		}
		price := "Preço indisponível"
		if r.Price > 0 && (r.CurrencyID == "" || r.CurrencyID == "BRL") {
			price = FormatBRL(r.Price)
		}
		offers = append(offers, entity.PriceOffer{
			Title: strings.Join(strings.Fields(r.Title), " "),
			Price: price,
			Link:  r.Permalink,
		})
		if len(offers) == limit {
			break
		}
	}
	return offers, nil
}
