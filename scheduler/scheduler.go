// Package scheduler запускает именованные периодические задачи на тикерах.
// Каждая задача живёт в собственной горутине, выполняется сразу при старте и
// затем с заданным интервалом; паника или ошибка одной итерации логируется и
// не останавливает ни задачу, ни остальные задачи.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Task — одна итерация периодической работы. Возвращённая ошибка логируется;
// следующая итерация выполнится в любом случае.
type Task func(ctx context.Context) error

type Scheduler struct {
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	ctx    context.Context
	wg     sync.WaitGroup
}

func New(logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add регистрирует и сразу запускает задачу. Первая итерация выполняется
// немедленно: пропущенные за время простоя процесса окна должны быть
// подхвачены без ожидания целого интервала.
func (s *Scheduler) Add(name string, interval time.Duration, task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.logger.Info("scheduler task started",
			slog.String("task", name),
			slog.Duration("interval", interval))

		s.runOnce(name, task)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				s.logger.Info("scheduler task stopped", slog.String("task", name))
				return
			case <-ticker.C:
				s.runOnce(name, task)
			}
		}
	}()
}

func (s *Scheduler) runOnce(name string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler task panicked",
				slog.String("task", name),
				slog.Any("panic", fmt.Sprintf("%v", r)))
		}
	}()

	if err := task(s.ctx); err != nil {
		s.logger.Error("scheduler task failed",
			slog.String("task", name),
			slog.Any("error", err))
	}
}

// Stop отменяет контекст всех задач и дожидается их завершения.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}
