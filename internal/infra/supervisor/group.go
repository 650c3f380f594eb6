package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"crypto-pulse/internal/infra/metrics"
)

// ErrGraceExceeded возвращается, если задачи не завершились за отведённое время.
var ErrGraceExceeded = errors.New("supervisor: задачи не завершились вовремя")

// Task долгоживущая фоновая задача. Должна возвращаться после отмены ctx.
type Task func(ctx context.Context) error

// Group набор именованных задач с общим контекстом отмены.
// Задача, завершившаяся до отмены, перезапускается через RestartDelay.
type Group struct {
	RestartDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	eg     *errgroup.Group
	log    zerolog.Logger
}

// New создаёт группу, привязанную к родительскому контексту.
func New(parent context.Context, log zerolog.Logger) *Group {
	ctx, cancel := context.WithCancel(parent)
	eg, egCtx := errgroup.WithContext(ctx)
	return &Group{
		RestartDelay: 5 * time.Second,
		ctx:          egCtx,
		cancel:       cancel,
		eg:           eg,
		log:          log,
	}
}

// Context возвращает контекст группы.
func (g *Group) Context() context.Context { return g.ctx }

// Go запускает задачу под надзором.
func (g *Group) Go(name string, task Task) {
	g.eg.Go(func() error {
		for {
			err := g.runOnce(name, task)
			if g.ctx.Err() != nil {
				g.log.Debug().Str("task", name).Msg("supervisor: задача остановлена")
				return nil
			}
			g.log.Error().Err(err).Str("task", name).Dur("restart_in", g.RestartDelay).Msg("supervisor: задача завершилась, перезапуск")
			metrics.TaskRestarts.WithLabelValues(name).Inc()
			select {
			case <-g.ctx.Done():
				return nil
			case <-time.After(g.RestartDelay):
			}
		}
	})
}

func (g *Group) runOnce(name string, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic в задаче %s: %v", name, r)
		}
	}()
	return task(g.ctx)
}

// Wait ждёт завершения всех задач.
func (g *Group) Wait() error {
	return g.eg.Wait()
}

// Shutdown отменяет задачи и ждёт их не дольше grace.
func (g *Group) Shutdown(grace time.Duration) error {
	g.cancel()
	done := make(chan error, 1)
	go func() { done <- g.eg.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(grace):
		return ErrGraceExceeded
	}
}
