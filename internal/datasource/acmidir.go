package datasource

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/signalsfoundry/flight-replay/core"
	"github.com/signalsfoundry/flight-replay/internal/acmi"
	"github.com/signalsfoundry/flight-replay/internal/logging"
	"github.com/signalsfoundry/flight-replay/model"
)

// ACMIExt is the extension of recordings served by ACMIDir.
const ACMIExt = ".acmi"

// ACMIDir serves every .acmi file in a directory as a sortie whose id is the
// file name without extension.
type ACMIDir struct {
	dir string
	log logging.Logger
}

// NewACMIDir serves recordings from dir.
func NewACMIDir(dir string, log logging.Logger) *ACMIDir {
	if log == nil {
		log = logging.Noop()
	}
	return &ACMIDir{dir: dir, log: log}
}

// ListSorties implements Source. Files that fail to parse are skipped with a
// warning.
func (d *ACMIDir) ListSorties(ctx context.Context) ([]model.SortieMeta, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, core.WrapSourceError("list sorties", "", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ACMIExt) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]model.SortieMeta, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := strings.TrimSuffix(name, filepath.Ext(name))
		rec, info, err := d.open(id)
		if err != nil {
			d.log.Warn(ctx, "skipping recording", logging.String("file", name), logging.Err(err))
			continue
		}
		out = append(out, d.meta(id, rec, info))
	}
	return out, nil
}

// Telemetry implements Source.
func (d *ACMIDir) Telemetry(ctx context.Context, sortieID string) ([]model.RawSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, _, err := d.open(sortieID)
	if err != nil {
		return nil, core.WrapSourceError("fetch telemetry", sortieID, err)
	}
	return rec.Samples, nil
}

func (d *ACMIDir) open(id string) (*acmi.Recording, fs.FileInfo, error) {
	if id == "" || filepath.Base(id) != id || strings.ContainsAny(id, `/\`) {
		return nil, nil, core.ErrSortieNotFound
	}
	path := filepath.Join(d.dir, id+ACMIExt)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, core.ErrSortieNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	rec, err := acmi.ParseFile(path)
	if err != nil {
		return nil, nil, err
	}
	return rec, info, nil
}

// meta falls back to the file's modification time when the recording has no
// ReferenceTime.
func (d *ACMIDir) meta(id string, rec *acmi.Recording, info fs.FileInfo) model.SortieMeta {
	m := rec.Meta(id)
	if m.StartTime == "" && info != nil {
		m.StartTime = info.ModTime().UTC().Format(time.RFC3339)
	}
	return m
}
