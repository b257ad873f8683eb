package mtproto

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"tg-member-mirror/internal/domain"
)

// Account описывает MTProto-аккаунт и хранилище его сессии.
type Account struct {
	Name    string
	APIID   int
	APIHash string
	Storage session.Storage
}

// Client реализует domain.PlatformClient поверх gotd.
// Соединение живёт между Start и Stop.
type Client struct {
	name     string
	client   *telegram.Client
	log      zerolog.Logger
	pageSize int

	mu     sync.Mutex
	api    *tg.Client
	self   *tg.User
	cancel context.CancelFunc
	done   chan error
}

var _ domain.PlatformClient = (*Client)(nil)

// NewClient создаёт MTProto клиента для аккаунта.
func NewClient(account Account, log zerolog.Logger) (*Client, error) {
	if account.APIID == 0 || account.APIHash == "" {
		return nil, fmt.Errorf("account %q: api_id and api_hash are required", account.Name)
	}
	if account.Storage == nil {
		return nil, fmt.Errorf("account %q: session storage is required", account.Name)
	}
	client := telegram.NewClient(account.APIID, account.APIHash, telegram.Options{SessionStorage: account.Storage})
	return &Client{
		name:     account.Name,
		client:   client,
		log:      log.With().Str("session", account.Name).Logger(),
		pageSize: 200,
	}, nil
}

// Name возвращает имя сессии.
func (c *Client) Name() string {
	return c.name
}

// Start подключается и проверяет авторизацию. ctx ограничивает только ожидание
// готовности: соединение остаётся открытым до Stop.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan error, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.client.Run(runCtx, func(ctx context.Context) error {
			status, err := c.client.Auth().Status(ctx)
			if err != nil {
				ready <- fmt.Errorf("auth status: %w", err)
				return err
			}
			if !status.Authorized {
				ready <- domain.ErrNotAuthorized
				return domain.ErrNotAuthorized
			}
			c.self = status.User
			c.api = c.client.API()
			ready <- nil
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	select {
	case err := <-ready:
		if err != nil {
			cancel()
			<-done
			return err
		}
	case err := <-done:
		cancel()
		if err == nil {
			err = errors.New("connection closed before authorization")
		}
		return err
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}

	c.cancel = cancel
	c.done = done
	if c.self != nil {
		c.log.Debug().Int64("self", c.self.ID).Str("username", c.self.Username).Msg("mtproto: сессия авторизована")
	}
	return nil
}

// Stop закрывает соединение и дожидается завершения клиента.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	err := <-c.done
	c.cancel = nil
	c.done = nil
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (c *Client) selfID() int64 {
	if c.self == nil {
		return 0
	}
	return c.self.ID
}
