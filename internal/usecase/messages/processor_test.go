package messages

import (
	"context"
	"sync"
	"testing"
	"time"

	"crypto-pulse/internal/domain"
)

func TestSameIDTwiceIsIdempotent(t *testing.T) {
	proc, _, q := newTestProcessor(10)
	in := Incoming{ID: 7, Channel: "forklog", Text: "hello", Date: time.Now()}

	if got := proc.Handle(context.Background(), in); got != OutcomeInserted {
		t.Fatalf("ожидали inserted, получили %s", got)
	}
	if got := proc.Handle(context.Background(), in); got != OutcomeDuplicate {
		t.Fatalf("ожидали duplicate, получили %s", got)
	}
	if proc.Buffer().Len() != 1 {
		t.Fatalf("ожидали одну запись, получили %d", proc.Buffer().Len())
	}
	if q.count() != 1 {
		t.Fatalf("ожидали одну задачу сохранения, получили %d", q.count())
	}
}

func TestSameIDOtherChannelIsNew(t *testing.T) {
	proc, _, _ := newTestProcessor(10)
	proc.Handle(context.Background(), Incoming{ID: 1, Channel: "a_chan", Text: "x"})
	if got := proc.Handle(context.Background(), Incoming{ID: 1, Channel: "b_chan", Text: "y"}); got != OutcomeInserted {
		t.Fatalf("ожидали inserted для другого канала, получили %s", got)
	}
}

func TestAlbumMerge(t *testing.T) {
	orders := map[string][]Incoming{
		"text first": {
			{ID: 10, Channel: "news", GroupedID: 99, Text: "caption"},
			{ID: 11, Channel: "news", GroupedID: 99, Attachment: &stubAttachment{kind: "photo", path: "news_11.jpg"}},
		},
		"media first": {
			{ID: 11, Channel: "news", GroupedID: 99, Attachment: &stubAttachment{kind: "photo", path: "news_11.jpg"}},
			{ID: 10, Channel: "news", GroupedID: 99, Text: "caption"},
		},
	}
	for name, parts := range orders {
		t.Run(name, func(t *testing.T) {
			proc, bus, q := newTestProcessor(10)
			if got := proc.Handle(context.Background(), parts[0]); got != OutcomeInserted {
				t.Fatalf("ожидали inserted, получили %s", got)
			}
			if got := proc.Handle(context.Background(), parts[1]); got != OutcomeMerged {
				t.Fatalf("ожидали merged, получили %s", got)
			}
			recent := proc.Buffer().Recent(0)
			if len(recent) != 1 {
				t.Fatalf("ожидали одну запись альбома, получили %d", len(recent))
			}
			rec := recent[0]
			if rec.Text != "caption" {
				t.Fatalf("ожидали текст подписи, получили %q", rec.Text)
			}
			if len(rec.Media) != 1 || rec.Media[0].URL != "/media/news_11.jpg" {
				t.Fatalf("ожидали вложение, получили %+v", rec.Media)
			}
			if rec.MediaPath != "news_11.jpg" || !rec.HasMedia {
				t.Fatalf("одиночные поля не заполнены: %+v", rec)
			}
			if ev := bus.last(); ev.Type != EventMessageUpdate || ev.Data.Text != "caption" {
				t.Fatalf("в шину ушла не склеенная запись: %+v", ev)
			}
			if q.count() != 2 {
				t.Fatalf("каждая часть альбома сохраняется отдельно, получили %d задач", q.count())
			}
		})
	}
}

func TestAlbumMediaDedupByPath(t *testing.T) {
	proc, _, _ := newTestProcessor(10)
	att := &stubAttachment{kind: "photo", path: "same.jpg"}
	proc.Handle(context.Background(), Incoming{ID: 1, Channel: "news", GroupedID: 5, Attachment: att})
	proc.Handle(context.Background(), Incoming{ID: 2, Channel: "news", GroupedID: 5, Attachment: att})
	rec := proc.Buffer().Recent(1)[0]
	if len(rec.Media) != 1 {
		t.Fatalf("путь не должен дублироваться: %+v", rec.Media)
	}
	if got := proc.Handle(context.Background(), Incoming{ID: 2, Channel: "news", GroupedID: 5, Text: "again"}); got != OutcomeDuplicate {
		t.Fatalf("повтор части альбома должен быть дубликатом, получили %s", got)
	}
}

func TestEditReplaces(t *testing.T) {
	proc, _, _ := newTestProcessor(10)
	proc.Handle(context.Background(), Incoming{ID: 3, Channel: "news", Text: "old", Views: 1})
	proc.Handle(context.Background(), Incoming{ID: 4, Channel: "news", Text: "other"})

	if got := proc.Handle(context.Background(), Incoming{ID: 3, Channel: "news", Text: "new", Views: 5, IsEdit: true}); got != OutcomeReplaced {
		t.Fatalf("ожидали replaced, получили %s", got)
	}
	recent := proc.Buffer().Recent(0)
	if len(recent) != 2 || recent[1].Text != "new" || recent[1].Views != 5 || !recent[1].IsEdit {
		t.Fatalf("правка не заменила запись на месте: %+v", recent)
	}

	if got := proc.Handle(context.Background(), Incoming{ID: 8, Channel: "news", Text: "edited unknown", IsEdit: true}); got != OutcomeInserted {
		t.Fatalf("правка неизвестного сообщения добавляется как новое, получили %s", got)
	}
}

func TestInFlightDuplicateDropped(t *testing.T) {
	proc, _, q := newTestProcessor(10)
	gate := make(chan struct{})
	att := &stubAttachment{kind: "video", path: "v.mp4", gate: gate}
	in := Incoming{ID: 1, Channel: "news", Attachment: att}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		proc.Handle(context.Background(), in)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		proc.Buffer().mu.Lock()
		_, busy := proc.Buffer().inFlight[messageKey{channel: "news", id: 1}]
		proc.Buffer().mu.Unlock()
		if busy {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("сообщение не попало в обработку")
		}
		time.Sleep(time.Millisecond)
	}

	if got := proc.Handle(context.Background(), Incoming{ID: 1, Channel: "news", Text: "dup"}); got != OutcomeInFlight {
		t.Fatalf("ожидали in_flight, получили %s", got)
	}
	close(gate)
	wg.Wait()
	if q.count() != 1 || proc.Buffer().Len() != 1 {
		t.Fatalf("ожидали одну запись и одну задачу")
	}
}

func TestSkippedAndPlaceholders(t *testing.T) {
	proc, _, q := newTestProcessor(10)
	if got := proc.Handle(context.Background(), Incoming{ID: 1, Channel: "news"}); got != OutcomeSkipped {
		t.Fatalf("пустое событие должно пропускаться, получили %s", got)
	}
	proc.Handle(context.Background(), Incoming{ID: 2, Channel: "news", Content: ContentPoll, PollQuestion: "Up?"})
	proc.Handle(context.Background(), Incoming{ID: 3, Channel: "news", Content: ContentLocation})
	recent := proc.Buffer().Recent(0)
	if recent[0].Text != domain.LocationPlaceholder || recent[1].Text != "[Poll: Up?]" {
		t.Fatalf("неверные заглушки: %q %q", recent[0].Text, recent[1].Text)
	}
	if q.count() != 2 {
		t.Fatalf("ожидали две задачи, получили %d", q.count())
	}
}

func TestDemoNotPersisted(t *testing.T) {
	proc, bus, q := newTestProcessor(10)
	att := &stubAttachment{kind: "photo", path: "x.jpg"}
	proc.Handle(context.Background(), Incoming{ID: 1, Channel: "bitcoin", Text: "demo", IsDemo: true, Attachment: att})
	if q.count() != 0 {
		t.Fatalf("демо-сообщения не должны сохраняться")
	}
	if att.calls != 0 {
		t.Fatalf("в демо-режиме вложения не скачиваются")
	}
	if ev := bus.last(); !ev.Data.IsDemo {
		t.Fatalf("ожидали is_demo в событии")
	}
}

func TestBufferEvictsOldest(t *testing.T) {
	proc, _, _ := newTestProcessor(3)
	for i := int64(1); i <= 4; i++ {
		proc.Handle(context.Background(), Incoming{ID: i, Channel: "news", Text: "m"})
	}
	recent := proc.Buffer().Recent(0)
	if len(recent) != 3 || recent[0].ID != 4 || recent[2].ID != 2 {
		t.Fatalf("ожидали [4 3 2], получили %+v", recent)
	}
	if proc.Buffer().Contains("news", 1) {
		t.Fatalf("самое старое сообщение должно быть вытеснено")
	}
}
