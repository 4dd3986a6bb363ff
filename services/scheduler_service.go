package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Имена фоновых задач
const (
	JobDocumentCheck = "document_check"
	JobCityRefresh   = "city_refresh"
)

// SchedulerService запускает периодические задачи: проверку документов и обновление городов
type SchedulerService struct {
	Documents *DocumentService
	Refresh   *CityRefreshService
	Notifier  Notifier

	cron *cron.Cron
	log  zerolog.Logger
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// NewSchedulerService создает планировщик; задачи добавляются через Schedule*
func NewSchedulerService(documents *DocumentService, refresh *CityRefreshService, notifier Notifier, log zerolog.Logger) *SchedulerService {
	return &SchedulerService{
		Documents: documents,
		Refresh:   refresh,
		Notifier:  notifier,
		cron:      cron.New(),
		log:       log.With().Str("service", "scheduler").Logger(),
		now:       time.Now,
		entries:   make(map[string]cron.EntryID),
	}
}

// ScheduleDocumentCheck регистрирует ежедневную проверку сроков документов
func (ss *SchedulerService) ScheduleDocumentCheck(spec string) error {
	return ss.add(JobDocumentCheck, spec, func() {
		if _, err := ss.RunDocumentCheck(context.Background()); err != nil {
			ss.log.Error().Err(err).Msg("document check failed")
		}
	})
}

// ScheduleCityRefresh регистрирует пакетное обновление городов
func (ss *SchedulerService) ScheduleCityRefresh(spec string) error {
	return ss.add(JobCityRefresh, spec, func() {
		if _, err := ss.RunCityRefresh(context.Background()); err != nil {
			ss.log.Error().Err(err).Msg("city refresh failed")
		}
	})
}

func (ss *SchedulerService) add(name, spec string, job func()) error {
	if spec == "" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron spec %q for %s: %w", spec, name, err)
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()
	if id, ok := ss.entries[name]; ok {
		ss.cron.Remove(id)
	}
	id, err := ss.cron.AddFunc(spec, job)
	if err != nil {
		return err
	}
	ss.entries[name] = id
	ss.log.Info().Str("job", name).Str("spec", spec).Msg("job scheduled")
	return nil
}

// Start запускает планировщик
func (ss *SchedulerService) Start() {
	ss.cron.Start()
	ss.log.Info().Int("jobs", len(ss.cron.Entries())).Msg("scheduler started")
}

// Stop останавливает планировщик и ждет завершения выполняющихся задач
func (ss *SchedulerService) Stop() {
	<-ss.cron.Stop().Done()
	ss.log.Info().Msg("scheduler stopped")
}

// NextRun время следующего запуска задачи
func (ss *SchedulerService) NextRun(name string) (time.Time, bool) {
	ss.mu.Lock()
	id, ok := ss.entries[name]
	ss.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	entry := ss.cron.Entry(id)
	return entry.Next, entry.Valid()
}

// RunDocumentCheck строит отчет о сроках на сегодня и отправляет оповещение при наличии проблем
func (ss *SchedulerService) RunDocumentCheck(ctx context.Context) (*ExpiryReport, error) {
	report, err := ss.Documents.ExpiryReport(ss.now())
	if err != nil {
		return nil, err
	}
	ss.log.Info().
		Int("expired", report.Counts[ExpiryExpired]).
		Int("expiring", report.Counts[ExpiryExpiring]).
		Msg("document check completed")

	if report.HasAlerts() && ss.Notifier != nil {
		if err := ss.Notifier.Notify(ctx, FormatExpiryAlert(report)); err != nil {
			ss.log.Warn().Err(err).Msg("failed to send expiry alert")
		}
	}
	return report, nil
}

// RunCityRefresh обновляет все города и сообщает итоги
func (ss *SchedulerService) RunCityRefresh(ctx context.Context) ([]*RefreshResult, error) {
	results, err := ss.Refresh.RefreshAll(ctx)
	if err != nil {
		return results, err
	}
	if len(results) > 0 && ss.Notifier != nil {
		if err := ss.Notifier.Notify(ctx, FormatRefreshSummary(results)); err != nil {
			ss.log.Warn().Err(err).Msg("failed to send refresh summary")
		}
	}
	return results, nil
}
