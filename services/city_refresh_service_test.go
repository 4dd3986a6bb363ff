package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backend_dooh/models"
)

// snapshotServer отдает фиксированный срез и считает запросы
func snapshotServer(t *testing.T, snap models.CitySnapshot, hits *int32) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func statusServer(t *testing.T, status int) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func httpSource(name string, srv *httptest.Server, timeout time.Duration) CityDataSource {
	return NewHTTPCitySource(name, srv.URL, timeout, DefaultRetryConfig(0), zerolog.Nop())
}

func setupRefreshTest(t *testing.T, sources map[string]CityDataSource) (*CityService, *CityRefreshService) {
	_, cs := setupCityServiceTest(t)
	rs := NewCityRefreshService(cs, sources, nil, DefaultAutoApplyPercent, zerolog.Nop())
	return cs, rs
}

func TestCityRefresh_ManualPreferenceRequiresConfirmation(t *testing.T) {
	candidate := sampleSnapshot(300000)
	var hits int32
	public := snapshotServer(t, candidate, &hits)
	cs, rs := setupRefreshTest(t, map[string]CityDataSource{
		models.SourcePublic: httpSource(models.SourcePublic, public, time.Second),
	})
	ctx := context.Background()

	_, err := cs.AddSnapshotPeriod("Iași", "2024-Q4", sampleSnapshot(271692), true)
	require.NoError(t, err)
	require.NoError(t, cs.SetPreference("Iași", models.PreferenceManual))

	plain, err := rs.Refresh(ctx, "Iași")
	require.NoError(t, err)
	assert.Equal(t, RefreshNeedsConfirmation, plain.Status)
	require.NotNil(t, plain.Proposal)
	assert.Nil(t, plain.Proposal.Candidate)
	assert.Equal(t, int64(271692), plain.Proposal.Current.Population)
	assert.Zero(t, atomic.LoadInt32(&hits))

	result, err := rs.RefreshFrom(ctx, "Iași", models.SourcePublic)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, RefreshNeedsConfirmation, result.Status)
	require.NotNil(t, result.Proposal.Candidate)
	assert.Equal(t, int64(300000), result.Proposal.Candidate.Population)
	assert.Equal(t, models.SourcePublic, result.Proposal.CandidateSource)
	assert.NotEmpty(t, result.Proposal.Changes)

	record, err := cs.Get("Iași")
	require.NoError(t, err)
	assert.Equal(t, "2024-Q4", record.Current)
	assert.Len(t, record.Periods, 1)

	_, pending := rs.Pending(ctx, "iasi")
	assert.True(t, pending)

	confirmed, err := rs.Confirm(ctx, "Iasi")
	require.NoError(t, err)
	assert.Equal(t, RefreshApplied, confirmed.Status)
	assert.Equal(t, "2025-Q2", confirmed.Period)

	record, err = cs.Get("Iași")
	require.NoError(t, err)
	assert.Equal(t, "2025-Q2", record.Current)
	assert.Len(t, record.Periods, 2)
	assert.Equal(t, int64(300000), record.Periods["2025-Q2"].Population)
	assert.Equal(t, models.SourcePublic, record.Periods["2025-Q2"].Source)
	assert.Equal(t, int64(271692), record.Periods["2024-Q4"].Population)

	_, pending = rs.Pending(ctx, "Iași")
	assert.False(t, pending)
	_, err = rs.Confirm(ctx, "Iași")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCityRefresh_PublicAutoAppliesSmallChanges(t *testing.T) {
	candidate := sampleSnapshot(272500)
	cs, rs := setupRefreshTest(t, map[string]CityDataSource{
		models.SourcePublic: httpSource(models.SourcePublic, snapshotServer(t, candidate, nil), time.Second),
	})
	_, err := cs.AddSnapshotPeriod("Iași", "2024-Q4", sampleSnapshot(271692), true)
	require.NoError(t, err)

	result, err := rs.Refresh(context.Background(), "Iași")
	require.NoError(t, err)
	assert.Equal(t, RefreshApplied, result.Status)
	assert.Equal(t, "2025-Q2", result.Period)

	snap, err := cs.CurrentSnapshot("Iași")
	require.NoError(t, err)
	assert.Equal(t, int64(272500), snap.Population)
}

func TestCityRefresh_PublicLargeChangeThenDecline(t *testing.T) {
	candidate := sampleSnapshot(400000)
	cs, rs := setupRefreshTest(t, map[string]CityDataSource{
		models.SourcePublic: httpSource(models.SourcePublic, snapshotServer(t, candidate, nil), time.Second),
	})
	ctx := context.Background()
	_, err := cs.AddSnapshotPeriod("Iași", "2024-Q4", sampleSnapshot(271692), true)
	require.NoError(t, err)

	result, err := rs.Refresh(ctx, "Iași")
	require.NoError(t, err)
	assert.Equal(t, RefreshNeedsConfirmation, result.Status)
	require.Len(t, result.Proposal.Changes, 1)
	assert.Equal(t, "population", result.Proposal.Changes[0].Field)
	assert.Len(t, rs.PendingAll(ctx), 1)

	require.NoError(t, rs.Decline(ctx, "Iași"))
	assert.Empty(t, rs.PendingAll(ctx))
	assert.ErrorIs(t, rs.Decline(ctx, "Iași"), ErrNotFound)

	record, err := cs.Get("Iași")
	require.NoError(t, err)
	assert.Equal(t, "2024-Q4", record.Current)
}

func TestCityRefresh_NewCityAlwaysNeedsConfirmation(t *testing.T) {
	cs, rs := setupRefreshTest(t, map[string]CityDataSource{
		models.SourcePublic: httpSource(models.SourcePublic, snapshotServer(t, sampleSnapshot(100), nil), time.Second),
	})
	_, err := cs.Upsert("Deva", models.CitySnapshot{})
	require.NoError(t, err)
	require.NoError(t, cs.Store.Cities.Update(func(data *cityHistory) error {
		record := (*data)["Deva"]
		record.Current = ""
		(*data)["Deva"] = record
		return nil
	}))

	result, err := rs.Refresh(context.Background(), "Deva")
	require.NoError(t, err)
	assert.Equal(t, RefreshNeedsConfirmation, result.Status)
	assert.Nil(t, result.Proposal.Current)
}

func TestCityRefresh_FallsThroughToPublic(t *testing.T) {
	cs, rs := setupRefreshTest(t, map[string]CityDataSource{
		models.SourceINS:    httpSource(models.SourceINS, statusServer(t, http.StatusInternalServerError), time.Second),
		models.SourcePublic: httpSource(models.SourcePublic, snapshotServer(t, sampleSnapshot(271700), nil), time.Second),
	})
	_, err := cs.AddSnapshotPeriod("Iași", "2024-Q4", sampleSnapshot(271692), true)
	require.NoError(t, err)
	require.NoError(t, cs.SetPreference("Iași", models.PreferenceINS))

	result, err := rs.Refresh(context.Background(), "Iași")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, RefreshNeedsConfirmation, result.Status)
	assert.Equal(t, models.SourcePublic, result.Proposal.CandidateSource)
	assert.Empty(t, result.Proposal.Changes)
	require.Len(t, result.SourceErrors, 1)
	assert.Equal(t, models.SourceINS, result.SourceErrors[0].Source)
	assert.False(t, result.SourceErrors[0].Timeout)
}

func TestCityRefresh_AllSourcesFail(t *testing.T) {
	cs, rs := setupRefreshTest(t, map[string]CityDataSource{
		models.SourcePublic: httpSource(models.SourcePublic, statusServer(t, http.StatusNotFound), time.Second),
	})
	_, err := cs.AddSnapshotPeriod("Iași", "2024-Q4", sampleSnapshot(271692), true)
	require.NoError(t, err)
	require.NoError(t, cs.SetPreference("Iași", models.PreferenceBRAT))

	result, err := rs.Refresh(context.Background(), "Iași")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, RefreshFailed, result.Status)
	require.Len(t, result.SourceErrors, 2)
	assert.Equal(t, models.SourceBRAT, result.SourceErrors[0].Source)
	assert.Contains(t, result.SourceErrors[0].Error(), "not configured")
	assert.True(t, errors.Is(result.SourceErrors[1], ErrNotFound))

	raw, err := json.Marshal(result.SourceErrors[1])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"cause"`)
	assert.Contains(t, result.String(), "failed (2 source errors)")

	_, pending := rs.Pending(context.Background(), "Iași")
	assert.False(t, pending)
}

func TestCityRefresh_TimeoutIsFlagged(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(slow.Close)

	cs, rs := setupRefreshTest(t, map[string]CityDataSource{
		models.SourcePublic: httpSource(models.SourcePublic, slow, 50*time.Millisecond),
	})
	_, err := cs.AddSnapshotPeriod("Iași", "2024-Q4", sampleSnapshot(271692), true)
	require.NoError(t, err)

	result, err := rs.Refresh(context.Background(), "Iași")
	require.NoError(t, err)
	assert.Equal(t, RefreshFailed, result.Status)
	require.Len(t, result.SourceErrors, 1)
	assert.True(t, result.SourceErrors[0].Timeout)
}

func TestCityRefresh_RefreshAllStopsOnCancel(t *testing.T) {
	cs, rs := setupRefreshTest(t, map[string]CityDataSource{
		models.SourcePublic: httpSource(models.SourcePublic, snapshotServer(t, sampleSnapshot(271692), nil), time.Second),
	})
	_, err := cs.AddSnapshotPeriod("Iași", "2024-Q4", sampleSnapshot(271692), true)
	require.NoError(t, err)
	_, err = cs.AddSnapshotPeriod("Arad", "2024-Q4", sampleSnapshot(145000), true)
	require.NoError(t, err)

	results, err := rs.RefreshAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Arad", results[0].City)
	assert.Equal(t, RefreshNeedsConfirmation, results[0].Status)
	assert.Equal(t, RefreshApplied, results[1].Status)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err = rs.RefreshAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}

func TestCompareSnapshots(t *testing.T) {
	current := sampleSnapshot(100000)

	same := current
	same.Population = 101500
	same.Description = "updated text"
	same.Source = models.SourceINS
	assert.Empty(t, CompareSnapshots(current, same, 2.0))

	changed := current
	changed.Population = 105000
	changed.County = "Vaslui"
	changes := CompareSnapshots(current, changed, 2.0)
	require.Len(t, changes, 2)
	assert.Equal(t, "population", changes[0].Field)
	require.NotNil(t, changes[0].DeltaPct)
	assert.Equal(t, 5.0, *changes[0].DeltaPct)
	assert.Equal(t, "county", changes[1].Field)
	assert.Nil(t, changes[1].DeltaPct)

	fromZero := CompareSnapshots(models.CitySnapshot{}, current, 2.0)
	assert.NotEmpty(t, fromZero)
	for _, c := range fromZero {
		assert.Nil(t, c.DeltaPct)
	}
}

func TestPrecedence(t *testing.T) {
	assert.Equal(t, []string{models.SourcePublic}, Precedence(models.PreferencePublic))
	assert.Equal(t, []string{models.SourceINS, models.SourcePublic}, Precedence(models.PreferenceINS))
	assert.Equal(t, []string{models.SourceBRAT, models.SourcePublic}, Precedence(models.PreferenceBRAT))
	assert.Nil(t, Precedence(models.PreferenceManual))
}

func TestProposalCache_WithoutRedis(t *testing.T) {
	ctx := context.Background()
	pc := NewProposalCache(nil, 0, zerolog.Nop())

	pc.Put(ctx, &RefreshProposal{City: "Brașov", Preference: models.PreferencePublic})
	p, ok := pc.Get(ctx, "BRASOV")
	require.True(t, ok)
	assert.Equal(t, "Brașov", p.City)
	assert.Len(t, pc.List(ctx), 1)

	pc.Delete(ctx, "brasov")
	_, ok = pc.Get(ctx, "Brașov")
	assert.False(t, ok)
	assert.Empty(t, pc.List(ctx))
}

func TestCityRefresh_RefreshAllFinishesCityInProgress(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sampleSnapshot(145000))
	}))
	t.Cleanup(slow.Close)

	cs, rs := setupRefreshTest(t, map[string]CityDataSource{
		models.SourcePublic: httpSource(models.SourcePublic, slow, time.Second),
	})
	_, err := cs.AddSnapshotPeriod("Arad", "2024-Q4", sampleSnapshot(145000), true)
	require.NoError(t, err)
	_, err = cs.AddSnapshotPeriod("Iași", "2024-Q4", sampleSnapshot(271692), true)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	results, err := rs.RefreshAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 1)
	assert.Equal(t, "Arad", results[0].City)
	assert.Equal(t, RefreshApplied, results[0].Status)
	assert.Empty(t, results[0].SourceErrors)

	record, err := cs.Get("Arad")
	require.NoError(t, err)
	assert.Equal(t, "2025-Q2", record.Current)

	record, err = cs.Get("Iași")
	require.NoError(t, err)
	assert.Equal(t, "2024-Q4", record.Current)
}
