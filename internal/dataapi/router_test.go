package dataapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/flight-replay/core"
	"github.com/signalsfoundry/flight-replay/internal/datasource"
	"github.com/signalsfoundry/flight-replay/model"
)

type fakeSource struct {
	sorties   []model.SortieMeta
	telemetry map[string][]model.RawSample
	err       error
}

func (f *fakeSource) ListSorties(context.Context) ([]model.SortieMeta, error) {
	return f.sorties, f.err
}

func (f *fakeSource) Telemetry(_ context.Context, id string) ([]model.RawSample, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.telemetry[id]
	if !ok {
		return nil, core.WrapSourceError("fetch telemetry", id, core.ErrSortieNotFound)
	}
	return s, nil
}

func newFake() *fakeSource {
	return &fakeSource{
		sorties: []model.SortieMeta{{ID: "1", AircraftType: "F-16C", MissionName: "Red Flag", StartTime: "2026-02-01T10:00:00"}},
		telemetry: map[string][]model.RawSample{
			"1": {
				{TimeOffset: 0, Lat: 1, Lon: 2, Alt: 3, IAS: 200, GForce: 1},
				{TimeOffset: 1, Lat: 1.1, Lon: 2.1, Alt: 4, IAS: 210, GForce: 1.5, Yaw: model.Float64(10)},
			},
		},
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestStatus(t *testing.T) {
	rr := get(t, NewRouter(newFake(), nil), "/api/")
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, Version, body["version"])
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestListSorties(t *testing.T) {
	rr := get(t, NewRouter(newFake(), nil), "/api/sorties")
	require.Equal(t, http.StatusOK, rr.Code)

	var list []map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "1", list[0]["id"])
	assert.Equal(t, "F-16C", list[0]["aircraft_type"])
}

func TestListSortiesEmptyIsArray(t *testing.T) {
	rr := get(t, NewRouter(&fakeSource{}, nil), "/api/sorties")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestTelemetry(t *testing.T) {
	rr := get(t, NewRouter(newFake(), nil), "/api/sorties/1/telemetry")
	require.Equal(t, http.StatusOK, rr.Code)

	var samples []model.RawSample
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &samples))
	require.Len(t, samples, 2)
	require.NotNil(t, samples[1].Yaw)
	assert.Equal(t, 10.0, *samples[1].Yaw)
}

func TestErrorsMapToStatus(t *testing.T) {
	router := NewRouter(newFake(), nil)
	assert.Equal(t, http.StatusNotFound, get(t, router, "/api/sorties/9/telemetry").Code)
	assert.Equal(t, http.StatusNotFound, get(t, router, "/nowhere").Code)

	broken := NewRouter(&fakeSource{err: core.WrapSourceError("list sorties", "", errors.New("disk gone"))}, nil)
	rr := get(t, broken, "/api/sorties")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "disk gone")
}

func TestHTTPSourceReadsDataAPI(t *testing.T) {
	srv := httptest.NewServer(NewRouter(newFake(), nil))
	defer srv.Close()

	src := datasource.NewHTTPSource(srv.URL + "/api")
	list, err := src.ListSorties(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)

	samples, err := src.Telemetry(context.Background(), list[0].ID)
	require.NoError(t, err)

	track, err := core.LoadTrack(list[0], samples)
	require.NoError(t, err)
	assert.Equal(t, 2, track.Len())

	_, err = src.Telemetry(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrSortieNotFound)
}
