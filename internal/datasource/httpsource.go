package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/signalsfoundry/flight-replay/core"
	"github.com/signalsfoundry/flight-replay/internal/logging"
	"github.com/signalsfoundry/flight-replay/model"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPSource reads from the telemetry HTTP API:
//
//	GET {base}/sorties
//	GET {base}/sorties/{id}/telemetry
type HTTPSource struct {
	base   string
	client *http.Client
	log    logging.Logger
}

// HTTPOption configures an HTTPSource.
type HTTPOption func(*HTTPSource)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSource) {
		if c != nil {
			s.client = c
		}
	}
}

// WithHTTPLogger attaches a logger.
func WithHTTPLogger(l logging.Logger) HTTPOption {
	return func(s *HTTPSource) {
		if l != nil {
			s.log = l
		}
	}
}

// NewHTTPSource builds a source rooted at base, e.g. "http://host:8000/api".
func NewHTTPSource(base string, opts ...HTTPOption) *HTTPSource {
	s := &HTTPSource{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: defaultHTTPTimeout},
		log:    logging.Noop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// wireSortie accepts the numeric ids the API emits as well as strings.
type wireSortie struct {
	ID           json.RawMessage `json:"id"`
	AircraftType *string         `json:"aircraft_type"`
	MissionName  *string         `json:"mission_name"`
	PilotName    *string         `json:"pilot_name"`
	MapName      *string         `json:"map_name"`
	StartTime    *string         `json:"start_time"`
}

func (w wireSortie) meta() (model.SortieMeta, error) {
	id, err := decodeID(w.ID)
	if err != nil {
		return model.SortieMeta{}, err
	}
	return model.SortieMeta{
		ID:           id,
		AircraftType: deref(w.AircraftType),
		MissionName:  deref(w.MissionName),
		PilotName:    deref(w.PilotName),
		MapName:      deref(w.MapName),
		StartTime:    deref(w.StartTime),
	}.Normalize(), nil
}

func decodeID(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("sortie id %s is neither a string nor a number", string(raw))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ListSorties implements Source.
func (s *HTTPSource) ListSorties(ctx context.Context) ([]model.SortieMeta, error) {
	var wire []wireSortie
	if err := s.getJSON(ctx, s.base+"/sorties", &wire); err != nil {
		if errors.Is(err, core.ErrSortieNotFound) {
			err = fmt.Errorf("no sorties endpoint at %s", s.base)
		}
		return nil, core.WrapSourceError("list sorties", "", err)
	}
	out := make([]model.SortieMeta, 0, len(wire))
	for i, w := range wire {
		m, err := w.meta()
		if err != nil {
			return nil, core.WrapSourceError("list sorties", "", fmt.Errorf("entry %d: %w", i, err))
		}
		out = append(out, m)
	}
	s.log.Debug(ctx, "listed sorties", logging.String("base", s.base), logging.Int("count", len(out)))
	return out, nil
}

// Telemetry implements Source.
func (s *HTTPSource) Telemetry(ctx context.Context, sortieID string) ([]model.RawSample, error) {
	u := s.base + "/sorties/" + url.PathEscape(sortieID) + "/telemetry"
	var samples []model.RawSample
	if err := s.getJSON(ctx, u, &samples); err != nil {
		return nil, core.WrapSourceError("fetch telemetry", sortieID, err)
	}
	s.log.Debug(ctx, "fetched telemetry",
		logging.String("sortie_id", sortieID),
		logging.Int("samples", len(samples)),
	)
	return samples, nil
}

func (s *HTTPSource) getJSON(ctx context.Context, u string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if id := logging.RequestIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return core.ErrSortieNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: %s: %s", u, resp.Status, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", u, err)
	}
	return nil
}

// Ping checks the API root answers.
func (s *HTTPSource) Ping(ctx context.Context) error {
	var status map[string]any
	if err := s.getJSON(ctx, s.base+"/", &status); err != nil {
		return core.WrapSourceError("ping", "", err)
	}
	return nil
}
