package messages

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DemoChannel канал синтетических сообщений.
type DemoChannel struct {
	Username string
	Title    string
}

// Demo генерирует синтетические сообщения, когда мессенджер недоступен.
type Demo struct {
	channels []DemoChannel
	texts    []string
	proc     *Processor
	minDelay time.Duration
	maxDelay time.Duration
	rnd      *rand.Rand
	nextID   atomic.Int64
	log      zerolog.Logger
}

// NewDemo создаёт генератор с паузой 5-15 секунд между сообщениями.
func NewDemo(channels []DemoChannel, texts []string, proc *Processor, log zerolog.Logger) *Demo {
	d := &Demo{
		channels: channels,
		texts:    texts,
		proc:     proc,
		minDelay: 5 * time.Second,
		maxDelay: 15 * time.Second,
		rnd:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b9)),
		log:      log,
	}
	// id растут монотонно и между перезапусками генератора.
	d.nextID.Store(time.Now().UnixMilli())
	return d
}

// Run выпускает сообщения до отмены ctx.
func (d *Demo) Run(ctx context.Context) error {
	if len(d.channels) == 0 || len(d.texts) == 0 {
		d.log.Warn().Msg("demo: нет каналов или текстов")
		<-ctx.Done()
		return nil
	}
	d.log.Info().Msg("demo: мессенджер недоступен, генерируем сообщения")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(d.nextDelay()):
		}
		d.proc.Handle(ctx, d.Next())
	}
}

func (d *Demo) nextDelay() time.Duration {
	span := d.maxDelay - d.minDelay
	if span <= 0 {
		return d.minDelay
	}
	return d.minDelay + time.Duration(d.rnd.Int64N(int64(span)))
}

// Next собирает одно синтетическое сообщение.
func (d *Demo) Next() Incoming {
	ch := d.channels[d.rnd.IntN(len(d.channels))]
	return Incoming{
		ID:           d.nextID.Add(1),
		Channel:      ch.Username,
		ChannelTitle: ch.Title,
		Text:         d.texts[d.rnd.IntN(len(d.texts))],
		Views:        100 + d.rnd.IntN(49900),
		Forwards:     d.rnd.IntN(500),
		Date:         time.Now().UTC(),
		IsDemo:       true,
	}
}
