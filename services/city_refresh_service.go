package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"backend_dooh/models"

	"github.com/rs/zerolog"
)

// Статусы результата обновления
const (
	RefreshApplied           = "applied"
	RefreshNeedsConfirmation = "needs_confirmation"
	RefreshFailed            = "failed"
)

// DefaultAutoApplyPercent допуск относительного изменения числовых полей для тихого применения
const DefaultAutoApplyPercent = 2.0

// FieldChange изменение одного поля среза
type FieldChange struct {
	Field     string      `json:"field"`
	Current   interface{} `json:"current"`
	Candidate interface{} `json:"candidate"`
	DeltaPct  *float64    `json:"delta_pct,omitempty"`
}

// RefreshProposal предложение обновления, ожидающее подтверждения
type RefreshProposal struct {
	City            string               `json:"city"`
	Preference      string               `json:"preference"`
	CurrentPeriod   string               `json:"current_period"`
	Current         *models.CitySnapshot `json:"current,omitempty"`
	Candidate       *models.CitySnapshot `json:"candidate,omitempty"`
	CandidateSource string               `json:"candidate_source,omitempty"`
	Changes         []FieldChange        `json:"changes"`
	CreatedAt       time.Time            `json:"created_at"`
}

// RefreshResult итог обновления одного города
type RefreshResult struct {
	City         string           `json:"city"`
	Success      bool             `json:"success"`
	Status       string           `json:"status"`
	Period       string           `json:"period,omitempty"`
	Proposal     *RefreshProposal `json:"proposal,omitempty"`
	SourceErrors []*FetchError    `json:"source_errors,omitempty"`
}

// CityRefreshService получает срезы из источников и применяет их напрямую или через подтверждение
type CityRefreshService struct {
	Cities           *CityService
	Sources          map[string]CityDataSource
	Proposals        *ProposalCache
	AutoApplyPercent float64
	log              zerolog.Logger
}

// NewCityRefreshService создает новый экземпляр CityRefreshService
func NewCityRefreshService(cities *CityService, sources map[string]CityDataSource, proposals *ProposalCache, autoApplyPercent float64, log zerolog.Logger) *CityRefreshService {
	if autoApplyPercent < 0 {
		autoApplyPercent = DefaultAutoApplyPercent
	}
	if proposals == nil {
		proposals = NewProposalCache(nil, 0, log)
	}
	return &CityRefreshService{
		Cities:           cities,
		Sources:          sources,
		Proposals:        proposals,
		AutoApplyPercent: autoApplyPercent,
		log:              log.With().Str("service", "city_refresh").Logger(),
	}
}

// Precedence порядок источников для предпочтения; manual не опрашивает источники
func Precedence(preference string) []string {
	switch preference {
	case models.PreferencePublic:
		return []string{models.SourcePublic}
	case models.PreferenceINS:
		return []string{models.SourceINS, models.SourcePublic}
	case models.PreferenceBRAT:
		return []string{models.SourceBRAT, models.SourcePublic}
	}
	return nil
}

// Refresh обновляет город по его предпочтению источника
func (rs *CityRefreshService) Refresh(ctx context.Context, city string) (*RefreshResult, error) {
	record, err := rs.Cities.Get(city)
	if err != nil {
		return nil, err
	}
	preference, err := rs.Cities.Preference(record.Name)
	if err != nil {
		return nil, err
	}

	order := Precedence(preference)
	if len(order) == 0 {
		current, _ := record.CurrentSnapshot()
		return &RefreshResult{
			City:    record.Name,
			Success: true,
			Status:  RefreshNeedsConfirmation,
			Proposal: &RefreshProposal{
				City:          record.Name,
				Preference:    preference,
				CurrentPeriod: record.Current,
				Current:       &current,
				Changes:       []FieldChange{},
				CreatedAt:     rs.Cities.now(),
			},
		}, nil
	}

	return rs.refresh(ctx, record, preference, order)
}

// RefreshFrom запрашивает явно указанный источник; результат всегда требует подтверждения,
// кроме предпочтения public без значимых изменений
func (rs *CityRefreshService) RefreshFrom(ctx context.Context, city, source string) (*RefreshResult, error) {
	record, err := rs.Cities.Get(city)
	if err != nil {
		return nil, err
	}
	preference, err := rs.Cities.Preference(record.Name)
	if err != nil {
		return nil, err
	}
	return rs.refresh(ctx, record, preference, []string{source})
}

func (rs *CityRefreshService) refresh(ctx context.Context, record *models.CityRecord, preference string, order []string) (*RefreshResult, error) {
	result := &RefreshResult{City: record.Name}

	var candidate *models.CitySnapshot
	var candidateSource string
	for _, name := range order {
		source, ok := rs.Sources[name]
		if !ok {
			result.SourceErrors = append(result.SourceErrors, &FetchError{
				Source: name,
				City:   record.Name,
				Err:    errors.New("source is not configured"),
			})
			continue
		}
		snap, err := source.Fetch(ctx, record.Name)
		if err != nil {
			var fe *FetchError
			if !errors.As(err, &fe) {
				fe = &FetchError{Source: name, City: record.Name, Timeout: isTimeout(err), Err: err}
			}
			rs.log.Warn().Err(err).Str("city", record.Name).Str("source", name).Bool("timeout", fe.Timeout).Msg("city source failed")
			result.SourceErrors = append(result.SourceErrors, fe)
			continue
		}
		candidate = snap
		candidateSource = name
		break
	}

	if candidate == nil {
		result.Status = RefreshFailed
		return result, nil
	}
	candidate.Source = candidateSource

	current, hasCurrent := record.CurrentSnapshot()
	changes := CompareSnapshots(current, *candidate, rs.AutoApplyPercent)
	if !hasCurrent {
		changes = CompareSnapshots(models.CitySnapshot{}, *candidate, 0)
	}

	result.Success = true
	if preference == models.PreferencePublic && hasCurrent && len(changes) == 0 {
		period, err := rs.Cities.applyCandidate(record.Name, *candidate)
		if err != nil {
			return nil, err
		}
		rs.Proposals.Delete(ctx, record.Name)
		result.Status = RefreshApplied
		result.Period = period
		rs.log.Info().Str("city", record.Name).Str("period", period).Str("source", candidateSource).Msg("city snapshot applied")
		return result, nil
	}

	proposal := &RefreshProposal{
		City:            record.Name,
		Preference:      preference,
		CurrentPeriod:   record.Current,
		Candidate:       candidate,
		CandidateSource: candidateSource,
		Changes:         changes,
		CreatedAt:       rs.Cities.now(),
	}
	if hasCurrent {
		proposal.Current = &current
	}
	rs.Proposals.Put(ctx, proposal)

	result.Status = RefreshNeedsConfirmation
	result.Proposal = proposal
	rs.log.Info().Str("city", record.Name).Int("changes", len(changes)).Msg("city refresh awaits confirmation")
	return result, nil
}

// Confirm применяет ожидающее предложение: новый период YYYY-Q<q> становится текущим
func (rs *CityRefreshService) Confirm(ctx context.Context, city string) (*RefreshResult, error) {
	proposal, ok := rs.Proposals.Get(ctx, city)
	if !ok || proposal.Candidate == nil {
		return nil, notFound("refresh proposal", city)
	}
	period, err := rs.Cities.applyCandidate(proposal.City, *proposal.Candidate)
	if err != nil {
		return nil, err
	}
	rs.Proposals.Delete(ctx, city)
	rs.log.Info().Str("city", proposal.City).Str("period", period).Msg("city refresh confirmed")
	return &RefreshResult{City: proposal.City, Success: true, Status: RefreshApplied, Period: period}, nil
}

// Decline отклоняет предложение без изменения данных
func (rs *CityRefreshService) Decline(ctx context.Context, city string) error {
	if _, ok := rs.Proposals.Get(ctx, city); !ok {
		return notFound("refresh proposal", city)
	}
	rs.Proposals.Delete(ctx, city)
	return nil
}

// Pending возвращает предложение города, если оно есть
func (rs *CityRefreshService) Pending(ctx context.Context, city string) (*RefreshProposal, bool) {
	return rs.Proposals.Get(ctx, city)
}

// PendingAll возвращает все ожидающие предложения
func (rs *CityRefreshService) PendingAll(ctx context.Context) []*RefreshProposal {
	return rs.Proposals.List(ctx)
}

// RefreshAll обновляет все города. Отмена контекста проверяется только между городами:
// начатый город доводится до конца, таймауты источников при этом действуют
func (rs *CityRefreshService) RefreshAll(ctx context.Context) ([]*RefreshResult, error) {
	names, err := rs.Cities.Names()
	if err != nil {
		return nil, err
	}
	results := make([]*RefreshResult, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := rs.Refresh(context.WithoutCancel(ctx), name)
		if err != nil {
			rs.log.Error().Err(err).Str("city", name).Msg("city refresh failed")
			res = &RefreshResult{City: name, Status: RefreshFailed}
		}
		results = append(results, res)
	}
	return results, nil
}

// CompareSnapshots возвращает поля, изменившиеся больше чем на tolerancePct процентов.
// Строки сравниваются точно; description, source и last_updated не сравниваются.
func CompareSnapshots(current, candidate models.CitySnapshot, tolerancePct float64) []FieldChange {
	changes := []FieldChange{}
	numeric := func(field string, a, b float64) {
		if a == b {
			return
		}
		if a == 0 {
			changes = append(changes, FieldChange{Field: field, Current: a, Candidate: b})
			return
		}
		delta := math.Abs(b-a) / math.Abs(a) * 100
		if delta > tolerancePct {
			d := math.Round(delta*100) / 100
			changes = append(changes, FieldChange{Field: field, Current: a, Candidate: b, DeltaPct: &d})
		}
	}

	numeric("population", float64(current.Population), float64(candidate.Population))
	if strings.TrimSpace(current.County) != strings.TrimSpace(candidate.County) {
		changes = append(changes, FieldChange{Field: "county", Current: current.County, Candidate: candidate.County})
	}
	numeric("active_population_pct", current.ActivePopulationPct, candidate.ActivePopulationPct)
	numeric("daily_traffic_total", float64(current.DailyTrafficTotal), float64(candidate.DailyTrafficTotal))
	numeric("daily_pedestrian_total", float64(current.DailyPedestrianTotal), float64(candidate.DailyPedestrianTotal))
	numeric("modal_split.auto", current.ModalSplit.Auto, candidate.ModalSplit.Auto)
	numeric("modal_split.walking", current.ModalSplit.Walking, candidate.ModalSplit.Walking)
	numeric("modal_split.cycling", current.ModalSplit.Cycling, candidate.ModalSplit.Cycling)
	numeric("modal_split.public_transport", current.ModalSplit.PublicTransport, candidate.ModalSplit.PublicTransport)
	numeric("avg_commute_distance_km", current.AvgCommuteDistanceKm, candidate.AvgCommuteDistanceKm)
	return changes
}

// String краткое описание результата для CLI
func (r *RefreshResult) String() string {
	switch r.Status {
	case RefreshApplied:
		return fmt.Sprintf("%s: applied as %s", r.City, r.Period)
	case RefreshNeedsConfirmation:
		n := 0
		if r.Proposal != nil {
			n = len(r.Proposal.Changes)
		}
		return fmt.Sprintf("%s: needs confirmation (%d changes)", r.City, n)
	}
	return fmt.Sprintf("%s: failed (%d source errors)", r.City, len(r.SourceErrors))
}
