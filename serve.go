package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/matheus-giordani/emme7-bot/ai/gpt"
	"github.com/matheus-giordani/emme7-bot/bot/whatsapp"
	"github.com/matheus-giordani/emme7-bot/impl/core"
	"github.com/matheus-giordani/emme7-bot/internal/config"
	repository "github.com/matheus-giordani/emme7-bot/internal/database"
	"github.com/matheus-giordani/emme7-bot/internal/http-server/api"
	"github.com/matheus-giordani/emme7-bot/internal/lib/sl"
	"github.com/matheus-giordani/emme7-bot/internal/memstore"
	"github.com/matheus-giordani/emme7-bot/internal/postgres"
	"github.com/matheus-giordani/emme7-bot/internal/queue"
	"github.com/matheus-giordani/emme7-bot/internal/service/leads"
	"github.com/matheus-giordani/emme7-bot/internal/service/prices"
	"github.com/matheus-giordani/emme7-bot/internal/service/sheets"
	"github.com/matheus-giordani/emme7-bot/internal/ws"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP backend and webhook receiver",
	Long: `Serves the Evolution webhook, the batch endpoint, the staff API and
the live feed. With the memory queue the batch consumer runs in-process.`,
	RunE: runServe,
}

type store interface {
	core.Repository
	Close() error
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	conf, lg := setup(ctx)

	handler := core.New(conf, lg)

	repo, err := openStore(ctx, conf, lg)
	if err != nil {
		lg.Error("storage", sl.Err(err))
		return err
	}
	defer func() {
		_ = repo.Close()
	}()
	handler.SetRepository(repo)

	var q queue.Queue
	var memQueue *queue.MemoryQueue
	switch conf.Queue.Driver {
	case config.QueueRedis:
		redisQueue, err := queue.NewRedisQueue(ctx, redisOptions(conf), lg)
		if err != nil {
			lg.Error("redis queue", sl.Err(err))
			return err
		}
		defer func() {
			_ = redisQueue.Close()
		}()
		q = redisQueue
	default:
		memQueue = queue.NewMemoryQueue()
		q = memQueue
	}
	handler.SetQueue(q)
	lg.Info("queue initialized", slog.String("driver", conf.Queue.Driver))

	evolution := whatsapp.NewEvolutionClient(whatsapp.EvolutionOptions{
		BaseURL:       conf.Evolution.BaseURL,
		ApiKey:        conf.Evolution.ApiKey,
		Instance:      conf.Evolution.Instance,
		Timeout:       conf.Evolution.Timeout,
		RatePerSecond: conf.Evolution.RatePerSecond,
	}, lg)
	handler.SetNotifier(evolution)
	lg.With(
		slog.String("url", conf.Evolution.BaseURL),
		slog.String("instance", conf.Evolution.Instance),
		sl.Secret("api_key", conf.Evolution.ApiKey),
	).Info("evolution client initialized")

	mapper := whatsapp.NewMapper(whatsapp.MapperOptions{
		DefaultInstance:   conf.Evolution.Instance,
		SessionPhones:     conf.Evolution.SessionPhoneMap,
		DefaultStorePhone: conf.Evolution.DefaultPhone,
	}, lg)
	handler.SetMapper(mapper)

	openaiClient := openai.NewClient(conf.OpenAI.ApiKey)
	if conf.OpenAI.TranscribeAudio {
		mapper.SetTranscriber(gpt.NewTranscriber(openaiClient, lg))
	}

	prompt, err := gpt.LoadPrompt(conf.Agent.PromptFile)
	if err != nil {
		lg.Error("load prompt", sl.Err(err))
		return err
	}
	agent, err := gpt.NewSalesAgent(openaiClient, prompt, gpt.Options{
		Model:    conf.OpenAI.Model,
		Timezone: conf.Agent.Timezone,
		Rounds:   conf.Agent.ToolRounds,
	}, lg)
	if err != nil {
		lg.Error("sales agent", sl.Err(err))
		return err
	}
	if conf.Prices.Enabled {
		agent.SetPriceSearcher(prices.NewService([]prices.Provider{
			prices.NewMercadoLivre(prices.MercadoLivreOptions{
				BaseURL:     conf.Prices.BaseURL,
				SiteID:      conf.Prices.SiteID,
				AccessToken: conf.Prices.AccessToken,
				Timeout:     conf.Prices.Timeout,
			}),
		}, conf.Prices.Timeout, lg))
		lg.With(
			slog.String("site_id", conf.Prices.SiteID),
			sl.Secret("access_token", conf.Prices.AccessToken),
		).Info("price search enabled")
	}
	handler.SetAgent(agent)
	lg.With(
		slog.String("model", conf.OpenAI.Model),
		sl.Secret("openai_key", conf.OpenAI.ApiKey),
	).Info("sales agent initialized")

	directory := leads.ParseContacts(conf.Store.Contacts)
	registrar := leads.NewRegistrar(repo, evolution, leads.Options{
		ForwardNumber:     conf.Store.ForwardNumber,
		ResponsibleNumber: conf.Store.ResponsibleNumber,
		Directory:         directory,
		Gate:              leads.NewGate(conf.Lead.RequiredFields),
	}, lg)
	if conf.Sheets.Enabled {
		exporter, err := sheets.NewExporter(ctx, conf.Sheets.CredentialsFile, conf.Sheets.SpreadsheetID, conf.Sheets.Range, conf.Agent.Timezone, lg)
		if err != nil {
			lg.Error("sheets exporter", sl.Err(err))
		} else {
			registrar.SetExporter(exporter)
			lg.Info("sheets exporter initialized", slog.String("spreadsheet", conf.Sheets.SpreadsheetID))
		}
	}
	handler.SetRegistrar(registrar)
	handler.SetContacts(directory.Contacts())
	lg.With(
		slog.Any("required_fields", registrar.Gate().Required()),
		slog.Int("contacts", len(directory.Contacts())),
	).Info("lead registrar initialized")

	hub := ws.NewHub(lg)
	go hub.Run(ctx)
	handler.SetBroadcaster(hub)

	if memQueue != nil {
		c := newConsumer(conf, memQueue, lg)
		c.SetLocker(memQueue)
		go func() {
			_ = c.Run(ctx)
		}()
	}

	// *** blocking start with http server ***
	if err = api.New(conf, lg, handler, hub).Run(ctx); err != nil {
		lg.Error("server start", sl.Err(err))
		return err
	}
	lg.Info("service stopped")
	return nil
}

func openStore(ctx context.Context, conf *config.Config, lg *slog.Logger) (store, error) {
	switch conf.Storage.Driver {
	case config.StoragePostgres:
		db, err := postgres.New(ctx, conf.PostgresDSN(), conf.Postgres.MaxConns, lg)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		lg.With(
			slog.String("host", conf.Postgres.Host),
			slog.String("database", conf.Postgres.Database),
		).Info("postgres store initialized")
		return db, nil
	case config.StorageMongo:
		db, err := repository.NewMongoClient(ctx, conf, lg)
		if err != nil {
			return nil, fmt.Errorf("mongo: %w", err)
		}
		lg.With(
			slog.String("host", conf.Mongo.Host),
			slog.String("port", conf.Mongo.Port),
			slog.String("database", conf.Mongo.Database),
		).Info("mongo client initialized")
		return db, nil
	default:
		lg.Warn("memory store in use, data is lost on restart")
		return memstore.New(), nil
	}
}
