package mtproto

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"crypto-pulse/internal/domain"
	"crypto-pulse/internal/infra/metrics"
	"crypto-pulse/internal/usecase/messages"
)

// updateQueueSize очередь push-событий между диспетчером gotd и обработчиком.
const updateQueueSize = 256

// ErrChannelNotFound username не принадлежит публичному каналу.
var ErrChannelNotFound = errors.New("mtproto: канал не найден")

// Options параметры клиента.
type Options struct {
	APIID    int
	APIHash  string
	Storage  session.Storage
	MediaDir string
}

// Client сессия MTProto на базе gotd. Реализует messages.Session.
type Client struct {
	client   *telegram.Client
	mediaDir string
	conn     atomic.Pointer[conn]
	log      zerolog.Logger
}

var _ messages.Session = (*Client)(nil)

// NewClient создаёт MTProto клиент с хранилищем сессии.
func NewClient(opts Options, log zerolog.Logger) *Client {
	c := &Client{mediaDir: opts.MediaDir, log: log}
	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		c.route(u.Message, false)
		return nil
	})
	dispatcher.OnEditChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateEditChannelMessage) error {
		c.route(u.Message, true)
		return nil
	})
	c.client = telegram.NewClient(opts.APIID, opts.APIHash, telegram.Options{
		SessionStorage: opts.Storage,
		UpdateHandler:  dispatcher,
	})
	return c
}

// Run подключается, проверяет авторизацию и передаёт подключение в ready.
func (c *Client) Run(ctx context.Context, ready func(ctx context.Context, conn messages.Conn) error) error {
	return c.client.Run(ctx, func(ctx context.Context) error {
		start := time.Now()
		status, err := c.client.Auth().Status(ctx)
		metrics.ObserveNetworkRequest("mtproto", "auth_status", "telegram", start, err)
		if err != nil {
			return fmt.Errorf("статус авторизации: %w", err)
		}
		if !status.Authorized {
			return messages.ErrUnauthorized
		}
		c.log.Info().Msg("mtproto: сессия авторизована")

		cn := newConn(c.client.API(), newMediaStore(c.mediaDir, c.client.API()), c.log)
		c.conn.Store(cn)
		defer c.conn.Store(nil)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return cn.dispatch(gctx) })
		g.Go(func() error {
			err := ready(gctx, cn)
			cn.close()
			return err
		})
		return g.Wait()
	})
}

func (c *Client) route(msg tg.MessageClass, isEdit bool) {
	if cn := c.conn.Load(); cn != nil {
		cn.push(msg, isEdit)
	}
}

type channelRef struct {
	info       domain.ChannelInfo
	accessHash int64
}

type update struct {
	msg    *tg.Message
	ref    channelRef
	isEdit bool
}

// conn реализует messages.Conn поверх tg.Client.
type conn struct {
	api   *tg.Client
	media *mediaStore
	log   zerolog.Logger

	mu     sync.RWMutex
	byID   map[int64]channelRef
	byName map[string]channelRef

	handle  atomic.Pointer[func(ctx context.Context, in messages.Incoming)]
	updates chan update
	done    chan struct{}
	once    sync.Once
}

var _ messages.Conn = (*conn)(nil)

func newConn(api *tg.Client, media *mediaStore, log zerolog.Logger) *conn {
	return &conn{
		api:     api,
		media:   media,
		log:     log,
		byID:    make(map[int64]channelRef),
		byName:  make(map[string]channelRef),
		updates: make(chan update, updateQueueSize),
		done:    make(chan struct{}),
	}
}

func (c *conn) close() { c.once.Do(func() { close(c.done) }) }

// Resolve находит канал по username и читает число подписчиков.
func (c *conn) Resolve(ctx context.Context, username string) (domain.ChannelInfo, error) {
	start := time.Now()
	resolved, err := c.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: username})
	metrics.ObserveNetworkRequest("mtproto", "resolve_username", "telegram", start, err)
	if err != nil {
		return domain.ChannelInfo{}, fmt.Errorf("resolve %s: %w", username, err)
	}
	peer, ok := resolved.Peer.(*tg.PeerChannel)
	if !ok {
		return domain.ChannelInfo{}, fmt.Errorf("%s: %w", username, ErrChannelNotFound)
	}
	var channel *tg.Channel
	for _, chat := range resolved.Chats {
		if ch, ok := chat.(*tg.Channel); ok && ch.ID == peer.ChannelID {
			channel = ch
			break
		}
	}
	if channel == nil {
		return domain.ChannelInfo{}, fmt.Errorf("%s: %w", username, ErrChannelNotFound)
	}

	info := domain.ChannelInfo{ID: channel.ID, Username: username, Title: channel.Title}
	start = time.Now()
	full, err := c.api.ChannelsGetFullChannel(ctx, &tg.InputChannel{ChannelID: channel.ID, AccessHash: channel.AccessHash})
	metrics.ObserveNetworkRequest("mtproto", "get_full_channel", "telegram", start, err)
	if err != nil {
		c.log.Warn().Err(err).Str("channel", username).Msg("mtproto: нет полной информации о канале")
	} else if cf, ok := full.FullChat.(*tg.ChannelFull); ok {
		if count, ok := cf.GetParticipantsCount(); ok {
			info.Subscribers = count
		}
	}

	ref := channelRef{info: info, accessHash: channel.AccessHash}
	c.mu.Lock()
	c.byID[channel.ID] = ref
	c.byName[username] = ref
	c.mu.Unlock()
	c.log.Info().Str("channel", username).Int64("id", channel.ID).Int("subscribers", info.Subscribers).Msg("mtproto: канал подключён")
	return info, nil
}

// History возвращает последние limit сообщений канала.
func (c *conn) History(ctx context.Context, ch domain.ChannelInfo, limit int) ([]messages.Incoming, error) {
	c.mu.RLock()
	ref, ok := c.byName[ch.Username]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", ch.Username, ErrChannelNotFound)
	}

	start := time.Now()
	res, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  &tg.InputPeerChannel{ChannelID: ref.info.ID, AccessHash: ref.accessHash},
		Limit: limit,
	})
	metrics.ObserveNetworkRequest("mtproto", "get_history", "telegram", start, err)
	if err != nil {
		return nil, fmt.Errorf("история %s: %w", ch.Username, err)
	}

	var raw []tg.MessageClass
	switch r := res.(type) {
	case *tg.MessagesChannelMessages:
		raw = r.Messages
	case *tg.MessagesMessages:
		raw = r.Messages
	case *tg.MessagesMessagesSlice:
		raw = r.Messages
	}
	out := make([]messages.Incoming, 0, len(raw))
	for _, m := range raw {
		if msg, ok := m.(*tg.Message); ok {
			out = append(out, toIncoming(msg, ref.info, false, c.media))
		}
	}
	return out, nil
}

// Latest возвращает самое свежее сообщение канала.
func (c *conn) Latest(ctx context.Context, ch domain.ChannelInfo) (messages.Incoming, bool, error) {
	history, err := c.History(ctx, ch, 1)
	if err != nil || len(history) == 0 {
		return messages.Incoming{}, false, err
	}
	return history[0], true, nil
}

// Subscribe задаёт обработчик push-событий отслеживаемых каналов.
func (c *conn) Subscribe(channels []domain.ChannelInfo, handle func(ctx context.Context, in messages.Incoming)) {
	c.handle.Store(&handle)
	c.log.Info().Int("channels", len(channels)).Msg("mtproto: обработчики событий зарегистрированы")
}

// push кладёт событие в очередь. Переполнение теряет событие, его подберёт
// опрос каналов.
func (c *conn) push(m tg.MessageClass, isEdit bool) {
	msg, ok := m.(*tg.Message)
	if !ok {
		return
	}
	peer, ok := msg.PeerID.(*tg.PeerChannel)
	if !ok {
		return
	}
	c.mu.RLock()
	ref, tracked := c.byID[peer.ChannelID]
	c.mu.RUnlock()
	if !tracked {
		return
	}
	select {
	case c.updates <- update{msg: msg, ref: ref, isEdit: isEdit}:
	default:
		c.log.Warn().Str("channel", ref.info.Username).Int("id", msg.ID).Msg("mtproto: очередь событий переполнена")
	}
}

func (c *conn) dispatch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case u := <-c.updates:
			h := c.handle.Load()
			if h == nil {
				continue
			}
			(*h)(ctx, toIncoming(u.msg, u.ref.info, u.isEdit, c.media))
		}
	}
}
