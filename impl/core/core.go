package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/matheus-giordani/emme7-bot/bot/whatsapp"
	"github.com/matheus-giordani/emme7-bot/entity"
	"github.com/matheus-giordani/emme7-bot/internal/config"
	"github.com/matheus-giordani/emme7-bot/internal/lib/sl"
	"github.com/matheus-giordani/emme7-bot/internal/service/leads"
)

type Repository interface {
	UpsertChat(ctx context.Context, phone, instance string, at time.Time) (*entity.ChatSession, error)
	GetChat(ctx context.Context, id string) (*entity.ChatSession, error)
	AppendMessage(ctx context.Context, msg *entity.ChatMessage) (bool, error)
	ListMessages(ctx context.Context, chatID string, limit int) ([]entity.ChatMessage, error)
	LastMessageBy(ctx context.Context, chatID, sender string) (*entity.ChatMessage, error)
	GetMessageByKey(ctx context.Context, chatID, dedupKey string) (*entity.ChatMessage, error)

	GetLeadByChat(ctx context.Context, chatID string) (*entity.CustomerLead, error)
	CreateLead(ctx context.Context, lead *entity.CustomerLead) (bool, error)
	ListLeads(ctx context.Context, limit, offset int) ([]entity.CustomerLead, error)
}

// Agent decides the reply for a batch. Register-lead actions go through
// the handler it is given.
type Agent interface {
	Respond(ctx context.Context, turn entity.AgentTurn, onLead entity.LeadHandler) (entity.AgentReply, error)
}

type Notifier interface {
	SendText(ctx context.Context, instance, number, text string) error
}

type Registrar interface {
	Register(ctx context.Context, chatID string, fields entity.LeadFields) (*leads.Result, error)
}

type Queue interface {
	Enqueue(ctx context.Context, event entity.InboundEvent) error
	Depth(ctx context.Context) (int64, error)
}

type Mapper interface {
	Map(ctx context.Context, payload *whatsapp.WebhookPayload) (*whatsapp.MapResult, error)
}

// Broadcaster pushes new messages and leads to connected staff clients.
type Broadcaster interface {
	BroadcastMessage(msg entity.ChatMessage)
	BroadcastLead(lead entity.CustomerLead)
}

type Core struct {
	repo      Repository
	agent     Agent
	notifier  Notifier
	registrar Registrar
	queue     Queue
	mapper    Mapper
	hub       Broadcaster
	store     entity.StoreInfo
	authKey   string
	hookKey   string

	historyLimit  int
	humanCooldown time.Duration
	echoWindow    time.Duration

	validate *validator.Validate
	locker   *keyLocker
	now      func() time.Time
	log      *slog.Logger
}

func New(conf *config.Config, log *slog.Logger) *Core {
	return &Core{
		store: entity.StoreInfo{
			Name:              conf.Store.Name,
			ForwardNumber:     conf.Store.ForwardNumber,
			ResponsibleNumber: conf.Store.ResponsibleNumber,
		},
		authKey:       conf.Listen.ApiKey,
		hookKey:       conf.Evolution.WebhookKey,
		historyLimit:  conf.Agent.HistoryLimit,
		humanCooldown: conf.Agent.HumanCooldown,
		echoWindow:    conf.Agent.EchoWindow,
		validate:      validator.New(),
		locker:        newKeyLocker(),
		now:           time.Now,
		log:           log.With(sl.Module("core")),
	}
}

func (c *Core) SetRepository(repo Repository) {
	c.repo = repo
}

func (c *Core) SetAgent(agent Agent) {
	c.agent = agent
}

func (c *Core) SetNotifier(notifier Notifier) {
	c.notifier = notifier
}

func (c *Core) SetRegistrar(registrar Registrar) {
	c.registrar = registrar
}

func (c *Core) SetQueue(queue Queue) {
	c.queue = queue
}

func (c *Core) SetMapper(mapper Mapper) {
	c.mapper = mapper
}

func (c *Core) SetBroadcaster(hub Broadcaster) {
	c.hub = hub
}

// SetContacts exposes the routing contacts to the agent context.
func (c *Core) SetContacts(contacts []entity.StoreContact) {
	c.store.Contacts = contacts
}

func (c *Core) SetAuthKey(key string) {
	c.authKey = key
}

// keyLocker serializes work per conversation key. Entries are dropped once
// no goroutine holds or waits for them.
type keyLocker struct {
	mutex sync.Mutex
	keys  map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func newKeyLocker() *keyLocker {
	return &keyLocker{keys: make(map[string]*keyLock)}
}

func (l *keyLocker) Lock(key string) {
	l.mutex.Lock()
	lock, exists := l.keys[key]
	if !exists {
		lock = &keyLock{}
		l.keys[key] = lock
	}
	lock.refs++
	l.mutex.Unlock()

	lock.Lock()
}

func (l *keyLocker) Unlock(key string) {
	l.mutex.Lock()
	lock, exists := l.keys[key]
	if !exists {
		l.mutex.Unlock()
		return
	}
	lock.refs--
	if lock.refs == 0 {
		delete(l.keys, key)
	}
	l.mutex.Unlock()

	lock.Unlock()
}
