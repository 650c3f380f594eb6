package messages

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"crypto-pulse/internal/domain"
	"crypto-pulse/internal/infra/metrics"
	"crypto-pulse/internal/infra/queue"
)

// Outcome результат обработки одного события.
type Outcome string

const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeMerged    Outcome = "merged"
	OutcomeReplaced  Outcome = "replaced"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeInFlight  Outcome = "in_flight"
	OutcomeSkipped   Outcome = "skipped"
)

// EventMessageUpdate тип события шины для сообщений каналов.
const EventMessageUpdate = "message_update"

type messageEvent struct {
	Type string               `json:"type"`
	Data domain.MessageRecord `json:"data"`
}

// Processor дедуплицирует события, склеивает альбомы и раздаёт результат
// в шину и очередь сохранения.
type Processor struct {
	buffer *Buffer
	bus    domain.Publisher
	queue  domain.TaskQueue
	log    zerolog.Logger
}

// NewProcessor создаёт обработчик. queue может быть nil, тогда сообщения
// не сохраняются.
func NewProcessor(buffer *Buffer, bus domain.Publisher, q domain.TaskQueue, log zerolog.Logger) *Processor {
	return &Processor{buffer: buffer, bus: bus, queue: q, log: log}
}

// Buffer возвращает буфер последних сообщений.
func (p *Processor) Buffer() *Buffer { return p.buffer }

// Handle проводит событие через дедупликацию и склейку.
func (p *Processor) Handle(ctx context.Context, in Incoming) Outcome {
	outcome := p.handle(ctx, in)
	metrics.MessagesProcessed.WithLabelValues(string(outcome)).Inc()
	return outcome
}

func (p *Processor) handle(ctx context.Context, in Incoming) Outcome {
	text, ok := in.DisplayText()
	if !ok {
		p.log.Debug().Str("channel", in.Channel).Int64("id", in.ID).Msg("messages: пропуск служебного события")
		return OutcomeSkipped
	}

	key := messageKey{channel: in.Channel, id: in.ID}
	b := p.buffer
	b.mu.Lock()
	if _, busy := b.inFlight[key]; busy {
		b.mu.Unlock()
		return OutcomeInFlight
	}
	if !in.IsEdit && b.findPart(in.Channel, in.ID) != nil {
		b.mu.Unlock()
		return OutcomeDuplicate
	}
	b.inFlight[key] = struct{}{}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.inFlight, key)
		b.mu.Unlock()
	}()

	part := in.record(text)
	if in.Attachment != nil && !in.IsDemo {
		p.attach(ctx, &part, in.Attachment)
	}

	b.mu.Lock()
	outcome, merged := b.apply(part)
	b.mu.Unlock()

	p.publish(ctx, merged)
	if !in.IsDemo {
		p.enqueue(ctx, part)
	}
	p.log.Info().Str("channel", in.Channel).Int64("id", in.ID).Str("outcome", string(outcome)).Msg("messages: сообщение обработано")
	return outcome
}

func (p *Processor) attach(ctx context.Context, part *domain.MessageRecord, att Attachment) {
	path, err := att.Download(ctx)
	if err != nil {
		p.log.Warn().Err(err).Str("channel", part.ChannelUsername).Int64("id", part.ID).Msg("messages: не удалось скачать вложение")
		return
	}
	if path == "" {
		return
	}
	item := domain.MediaItem{Type: att.MediaType(), Path: path, URL: domain.MediaURL(path)}
	part.HasMedia = true
	part.MediaType = item.Type
	part.MediaPath = item.Path
	part.MediaURL = item.URL
	part.Media = []domain.MediaItem{item}
}

// apply вставляет, склеивает или заменяет запись. Вызывается под b.mu,
// возвращает копию итоговой записи.
func (b *Buffer) apply(part domain.MessageRecord) (Outcome, domain.MessageRecord) {
	if e := b.findGroup(part.ChannelUsername, part.GroupedID); e != nil {
		mergeInto(&e.rec, part)
		e.parts[part.ID] = struct{}{}
		return OutcomeMerged, e.rec.Clone()
	}
	if part.IsEdit {
		if e := b.findID(part.ChannelUsername, part.ID); e != nil {
			e.rec = part.Clone()
			return OutcomeReplaced, e.rec.Clone()
		}
	}
	b.pushFront(part.Clone())
	return OutcomeInserted, part.Clone()
}

// mergeInto дописывает часть альбома в существующую запись: текст только
// если его не было, вложения без повторов по пути, одиночные поля только
// если пусты.
func mergeInto(dst *domain.MessageRecord, part domain.MessageRecord) {
	if lacksText(dst.Text) && !lacksText(part.Text) {
		dst.Text = part.Text
	}
	for _, item := range part.Media {
		if !dst.HasMediaPath(item.Path) {
			dst.Media = append(dst.Media, item)
		}
	}
	if dst.MediaPath == "" && part.MediaPath != "" {
		dst.HasMedia = true
		dst.MediaType = part.MediaType
		dst.MediaPath = part.MediaPath
		dst.MediaURL = part.MediaURL
	}
}

func lacksText(text string) bool {
	return text == "" || text == domain.MediaPlaceholder
}

func (p *Processor) publish(ctx context.Context, rec domain.MessageRecord) {
	payload, err := json.Marshal(messageEvent{Type: EventMessageUpdate, Data: rec})
	if err != nil {
		p.log.Error().Err(err).Msg("messages: marshal события")
		return
	}
	if err := p.bus.Publish(ctx, domain.TopicMessages, payload); err != nil {
		p.log.Error().Err(err).Msg("messages: публикация в шину")
	}
}

func (p *Processor) enqueue(ctx context.Context, part domain.MessageRecord) {
	if p.queue == nil {
		return
	}
	job, err := queue.NewJob(domain.TaskPersistMessage, part)
	if err != nil {
		p.log.Error().Err(err).Msg("messages: сборка задачи сохранения")
		return
	}
	if err := p.queue.Enqueue(ctx, job); err != nil {
		p.log.Error().Err(err).Str("job_id", job.ID).Msg("messages: постановка задачи сохранения")
	}
}
