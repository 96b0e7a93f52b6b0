package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
	_ "time/tzdata"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/matheus-giordani/emme7-bot/entity"
	"github.com/matheus-giordani/emme7-bot/internal/lib/sl"
)

// Exporter appends every new lead as a row of a Google spreadsheet.
type Exporter struct {
	svc           *gsheets.Service
	spreadsheetID string
	rng           string
	location      *time.Location
	log           *slog.Logger
}

// NewExporter authenticates with a service account key file. Lead times
// are written in timezone.
func NewExporter(ctx context.Context, credentialsFile, spreadsheetID, rng, timezone string, log *slog.Logger) (*Exporter, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	jwtConf, err := google.JWTConfigFromJSON(data, gsheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	svc, err := gsheets.NewService(ctx, option.WithHTTPClient(jwtConf.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return newExporter(svc, spreadsheetID, rng, loc, log), nil
}

func newExporter(svc *gsheets.Service, spreadsheetID, rng string, loc *time.Location, log *slog.Logger) *Exporter {
	return &Exporter{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		rng:           rng,
		location:      loc,
		log:           log.With(sl.Module("service.sheets")),
	}
}

func (e *Exporter) ExportLead(ctx context.Context, lead *entity.CustomerLead) error {
	values := &gsheets.ValueRange{
		Values: [][]interface{}{e.row(lead)},
	}
	_, err := e.svc.Spreadsheets.Values.Append(e.spreadsheetID, e.rng, values).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append lead row: %w", err)
	}
	e.log.Debug("lead exported", slog.String("lead_id", lead.ID))
	return nil
}

func (e *Exporter) row(lead *entity.CustomerLead) []interface{} {
	return []interface{}{
		lead.CreatedAt.In(e.location).Format("2006-01-02 15:04"),
		lead.Name,
		lead.Phone,
		lead.City,
		lead.ProductInterest,
		lead.BudgetRange,
		lead.PreferredContactTime,
		lead.Email,
		lead.Notes,
		lead.ID,
		lead.ChatID,
	}
}
