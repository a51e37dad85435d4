package manager

import (
	"context"
	"sync"
	"time"

	"github.com/ingestion-agent/internal/croneval"
	"github.com/ingestion-agent/internal/models"
)

// CronResult summarizes one tick's dispatch
type CronResult struct {
	Examined  int
	Due       int
	Succeeded int
	Failed    int
}

// TriggerAllEnabledCronTasks evaluates every enabled cron task against the
// current clock and fires the due ones. The process owns no timer; an
// external tick source calls this.
func (m *Manager) TriggerAllEnabledCronTasks(ctx context.Context) (*CronResult, error) {
	return m.TriggerAllEnabledCronTasksAt(ctx, m.opts.Now())
}

// TriggerAllEnabledCronTasksAt is TriggerAllEnabledCronTasks with an
// explicit tick time, for tick sources that carry their own event clock.
// Due tasks run concurrently; the call returns when all have finished.
func (m *Manager) TriggerAllEnabledCronTasksAt(ctx context.Context, now time.Time) (*CronResult, error) {
	tasks, err := m.store.ListTasks(ctx)
	if err != nil {
		return nil, err
	}

	result := &CronResult{}
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, task := range tasks {
		if !task.Enabled || task.Trigger.Type != models.TriggerTypeCron {
			continue
		}
		result.Examined++

		due, scheduledAt, err := croneval.Due(task.Trigger.Expression, now, task.LastRun, m.opts.CronWindow)
		if err != nil {
			m.log.Warn().Err(err).Str("task_id", task.ID).Msg("Skipping task with invalid cron expression")
			continue
		}
		if !due {
			continue
		}
		result.Due++

		wg.Add(1)
		go func(task *models.Task, scheduledAt time.Time) {
			defer wg.Done()
			payload := m.basePayload(ctx, task)
			status, err := m.runTask(ctx, task, payload, &scheduledAt)

			mu.Lock()
			defer mu.Unlock()
			if err != nil || !status.Success {
				result.Failed++
			} else {
				result.Succeeded++
			}
		}(task, scheduledAt)
	}

	wg.Wait()

	if result.Due > 0 {
		m.log.Info().
			Int("examined", result.Examined).
			Int("due", result.Due).
			Int("succeeded", result.Succeeded).
			Int("failed", result.Failed).
			Msg("Cron tick dispatched")
	}
	return result, nil
}
