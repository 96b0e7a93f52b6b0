package prices

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus-giordani/emme7-bot/entity"
)

type fakeProvider struct {
	site   string
	offers []entity.PriceOffer
	err    error
	limit  int
}

func (f *fakeProvider) Site() string { return f.site }

func (f *fakeProvider) Search(_ context.Context, _ string, limit int) ([]entity.PriceOffer, error) {
	f.limit = limit
	return f.offers, f.err
}

func offers(n int) []entity.PriceOffer {
	out := make([]entity.PriceOffer, n)
	for i := range out {
		out[i] = entity.PriceOffer{Title: "Sofá", Price: "R$ 1.999,00", Link: "https://loja/sofa"}
	}
	return out
}

func TestSearchKeepsProviderOrderAndIsolatesFailures(t *testing.T) {
	ok := &fakeProvider{site: "A", offers: offers(5)}
	broken := &fakeProvider{site: "B", err: errors.New("status 403")}
	empty := &fakeProvider{site: "C"}
	s := NewService([]Provider{ok, broken, empty}, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))

	report := s.Search(context.Background(), "  sofá retrátil ", 2)

	assert.Equal(t, "sofá retrátil", report.Query)
	require.Len(t, report.Providers, 3)

	assert.Equal(t, "A", report.Providers[0].Site)
	assert.Equal(t, entity.PriceStatusOK, report.Providers[0].Status)
	assert.Len(t, report.Providers[0].Results, 2)

	assert.Equal(t, entity.PriceStatusError, report.Providers[1].Status)
	assert.Equal(t, "Não foi possível acessar B.", report.Providers[1].Error)
	assert.NotContains(t, report.Providers[1].Error, "403")

	assert.Equal(t, "Nenhum produto encontrado", report.Providers[2].Message)
}

func TestSearchClampsLimit(t *testing.T) {
	p := &fakeProvider{site: "A"}
	s := NewService([]Provider{p}, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))

	s.Search(context.Background(), "mesa", 0)
	assert.Equal(t, DefaultResults, p.limit)
	s.Search(context.Background(), "mesa", 50)
	assert.Equal(t, MaxResults, p.limit)
}

func TestFormatBRL(t *testing.T) {
	assert.Equal(t, "R$ 0,99", FormatBRL(0.99))
	assert.Equal(t, "R$ 899,90", FormatBRL(899.9))
	assert.Equal(t, "R$ 1.234,56", FormatBRL(1234.56))
	assert.Equal(t, "R$ 12.345.678,00", FormatBRL(12345678))
}

func TestMercadoLivreSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sites/MLB/search", r.URL.Path)
		assert.Equal(t, "sofá 3 lugares", r.URL.Query().Get("q"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer ml-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[
			{"title":"Sofá  3 Lugares\nCinza","price":1899.9,"currency_id":"BRL","permalink":"https://ml/sofa-1"},
			{"title":"","price":10,"permalink":"https://ml/x"},
			{"title":"Sofá Retrátil","price":0,"currency_id":"BRL","permalink":"https://ml/sofa-2"},
			{"title":"Sofá Extra","price":999,"currency_id":"BRL","permalink":"https://ml/sofa-3"}
		]}`))
	}))
	defer srv.Close()

	ml := NewMercadoLivre(MercadoLivreOptions{BaseURL: srv.URL, AccessToken: "ml-token", Timeout: time.Second})
	got, err := ml.Search(context.Background(), "sofá 3 lugares", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, entity.PriceOffer{Title: "Sofá 3 Lugares Cinza", Price: "R$ 1.899,90", Link: "https://ml/sofa-1"}, got[0])
	assert.Equal(t, "Preço indisponível", got[1].Price)
}

func TestMercadoLivreErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewMercadoLivre(MercadoLivreOptions{BaseURL: srv.URL, Timeout: time.Second}).Search(context.Background(), "mesa", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
