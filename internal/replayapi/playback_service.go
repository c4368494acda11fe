package replayapi

import (
	"context"
	"fmt"
	"math"
	"strings"

	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/flight-replay/core"
	"github.com/signalsfoundry/flight-replay/internal/logging"
	"github.com/signalsfoundry/flight-replay/internal/playback"
	"github.com/signalsfoundry/flight-replay/kb"
	"github.com/signalsfoundry/flight-replay/model"
	"github.com/signalsfoundry/flight-replay/timectrl"
)

// Control actions accepted by PlaybackService.Control.
const (
	ActionPause = "pause"
	ActionPlay  = "play"
	ActionReset = "reset"
	ActionSeek  = "seek"
	ActionRate  = "rate"
	ActionLoop  = "loop"
)

// PlaybackService implements PlaybackServer over a Player, the sortie
// catalog and a frame hub.
type PlaybackService struct {
	catalog *kb.Catalog
	lister  kb.Lister
	player  *playback.Player
	hub     *playback.Hub
	log     logging.Logger
}

// NewPlaybackService constructs a PlaybackService. lister may be nil; when
// set, a Select for an id missing from the catalog refreshes it once.
func NewPlaybackService(catalog *kb.Catalog, lister kb.Lister, player *playback.Player, hub *playback.Hub, log logging.Logger) *PlaybackService {
	if log == nil {
		log = logging.Noop()
	}
	if catalog == nil {
		catalog = kb.NewCatalog()
	}
	return &PlaybackService{
		catalog: catalog,
		lister:  lister,
		player:  player,
		hub:     hub,
		log:     log,
	}
}

// ListSorties returns the catalog, newest first.
func (s *PlaybackService) ListSorties(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	log := logging.FromContext(ctx, s.log)
	if s.catalog.Len() == 0 && s.lister != nil {
		if _, err := s.catalog.Refresh(ctx, s.lister); err != nil {
			log.Warn(ctx, "catalog refresh failed", logging.Err(err))
			return nil, ToStatusError(err)
		}
	}
	list := s.catalog.List()
	out, err := sortiesToList(list)
	if err != nil {
		return nil, ToStatusError(err)
	}
	log.Debug(ctx, "ListSorties completed", logging.Int("count", len(list)))
	return out, nil
}

// Select loads a sortie by id and makes it the active session.
func (s *PlaybackService) Select(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := logging.FromContext(ctx, s.log)
	id := strings.TrimSpace(req.GetFields()["sortie_id"].GetStringValue())
	if id == "" {
		return nil, ToStatusError(fmt.Errorf("%w: sortie_id is required", ErrInvalidRequest))
	}

	meta, err := s.lookup(ctx, id)
	if err != nil {
		return nil, ToStatusError(err)
	}

	st, err := s.player.Select(ctx, meta)
	if err != nil {
		log.Warn(ctx, "Select failed", logging.String("sortie_id", id), logging.Err(err))
		return nil, ToStatusError(err)
	}
	log.Info(ctx, "Select completed",
		logging.String("sortie_id", id),
		logging.Uint64("generation", st.Generation),
		logging.Int("samples", st.Samples),
	)
	return statusStruct(st)
}

func (s *PlaybackService) lookup(ctx context.Context, id string) (model.SortieMeta, error) {
	ctx, span := StartChildSpan(ctx, "catalog.lookup", id)
	defer span.End()

	if meta, ok := s.catalog.Get(id); ok {
		return meta, nil
	}
	if s.lister != nil {
		if _, err := s.catalog.Refresh(ctx, s.lister); err != nil {
			span.RecordError(err)
			return model.SortieMeta{}, err
		}
		if meta, ok := s.catalog.Get(id); ok {
			return meta, nil
		}
	}
	return model.SortieMeta{}, fmt.Errorf("sortie %q: %w", id, core.ErrSortieNotFound)
}

// Control applies a clock action to the active session. The request has an
// "action" field and, depending on it, "offset", "rate" or "policy".
func (s *PlaybackService) Control(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	action := strings.ToLower(strings.TrimSpace(fields["action"].GetStringValue()))

	var (
		st  playback.Status
		err error
	)
	switch action {
	case ActionPause:
		st, err = s.player.Pause()
	case ActionPlay:
		st, err = s.player.Play()
	case ActionReset:
		st, err = s.player.Reset()
	case ActionSeek:
		offset, ok := number(fields, "offset")
		if !ok {
			return nil, ToStatusError(fmt.Errorf("%w: seek needs a numeric offset", ErrInvalidRequest))
		}
		st, err = s.player.Seek(offset)
	case ActionRate:
		rate, ok := number(fields, "rate")
		if !ok {
			return nil, ToStatusError(fmt.Errorf("%w: rate needs a numeric rate", ErrInvalidRequest))
		}
		st, err = s.player.SetRate(rate)
	case ActionLoop:
		policy, perr := timectrl.ParseLoopPolicy(fields["policy"].GetStringValue())
		if perr != nil {
			return nil, ToStatusError(fmt.Errorf("%w: %v", ErrInvalidRequest, perr))
		}
		st = s.player.SetLoopPolicy(policy)
	default:
		return nil, ToStatusError(fmt.Errorf("%w: unknown action %q", ErrInvalidRequest, action))
	}
	if err != nil {
		return nil, ToStatusError(err)
	}

	logging.FromContext(ctx, s.log).Debug(ctx, "Control applied",
		logging.String("action", action),
		logging.Float64("offset", st.Offset),
		logging.String("state", st.State.String()),
	)
	return statusStruct(st)
}

// Status reports the active session.
func (s *PlaybackService) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return statusStruct(s.player.Status())
}

// StreamFrames sends every published frame until the client goes away. An
// optional "max_frames" field ends the stream after that many frames.
func (s *PlaybackService) StreamFrames(req *structpb.Struct, stream FrameStream) error {
	if s.hub == nil {
		return ToStatusError(fmt.Errorf("%w: frame streaming is not enabled", playback.ErrClosed))
	}
	ctx := stream.Context()
	log := logging.FromContext(ctx, s.log)

	limit := 0
	if n, ok := number(req.GetFields(), "max_frames"); ok && n > 0 {
		limit = int(n)
	}

	frames, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()
	log.Debug(ctx, "frame stream opened", logging.Int("max_frames", limit))

	sent := 0
	var newest uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			// A frame read before a replacement flushed the queue.
			if f.Render.Generation < newest {
				continue
			}
			newest = f.Render.Generation
			msg, err := ToStruct(FrameToView(f))
			if err != nil {
				return ToStatusError(err)
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
			sent++
			if limit > 0 && sent >= limit {
				return nil
			}
		}
	}
}

func statusStruct(st playback.Status) (*structpb.Struct, error) {
	out, err := ToStruct(StatusToView(st))
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}

func number(fields map[string]*structpb.Value, key string) (float64, bool) {
	v, ok := fields[key]
	if !ok {
		return 0, false
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || math.IsNaN(n.NumberValue) {
		return 0, false
	}
	return n.NumberValue, true
}
