// Package archive writes committed store snapshots to a blob store and
// restores them.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"spiritcore/internal/blob"
	"spiritcore/internal/infra/persistence/memory"
)

// Prefix is the key prefix every archive is written under.
const Prefix = "snapshots/"

// FormatVersion is stamped into every archive envelope.
const FormatVersion = 1

const keyLayout = "20060102T150405.000000000Z"

// ErrNoArchives is returned by Latest when nothing has been archived yet.
var ErrNoArchives = errors.New("no snapshot archives")

// Source is a store whose committed state can be exported and replaced.
// memory, sqlite and postgres stores all satisfy it.
type Source interface {
	ExportState() memory.Snapshot
	Restore(ctx context.Context, snapshot memory.Snapshot) error
}

type envelope struct {
	FormatVersion int             `json:"format_version"`
	ExportedAt    time.Time       `json:"exported_at"`
	State         memory.Snapshot `json:"state"`
}

// Archiver moves snapshots between a Source and a blob.Store.
type Archiver struct {
	blobs  blob.Store
	logger *zap.Logger
	now    func() time.Time
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithLogger sets the zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Archiver) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClock overrides the timestamp source used for archive keys.
func WithClock(now func() time.Time) Option {
	return func(a *Archiver) {
		if now != nil {
			a.now = now
		}
	}
}

// New returns an Archiver writing to blobs.
func New(blobs blob.Store, opts ...Option) *Archiver {
	a := &Archiver{blobs: blobs, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Export writes the committed state of src as snapshots/<UTC timestamp>.json.
func (a *Archiver) Export(ctx context.Context, src Source) (blob.Info, error) {
	state := src.ExportState()
	exportedAt := a.now().UTC()
	payload, err := json.Marshal(envelope{FormatVersion: FormatVersion, ExportedAt: exportedAt, State: state})
	if err != nil {
		return blob.Info{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	key := Prefix + exportedAt.Format(keyLayout) + ".json"
	info, err := a.blobs.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"studies":    strconv.Itoa(len(state.Studies)),
			"groups":     strconv.Itoa(len(state.Groups)),
			"biosamples": strconv.Itoa(len(state.Biosamples)),
		},
	})
	if err != nil {
		return blob.Info{}, fmt.Errorf("store snapshot: %w", err)
	}
	a.logger.Info("snapshot archived",
		zap.String("key", key),
		zap.Int64("size", info.Size),
		zap.String("driver", string(a.blobs.Driver())))
	return info, nil
}

// List returns the archives oldest first.
func (a *Archiver) List(ctx context.Context) ([]blob.Info, error) {
	return a.blobs.List(ctx, Prefix)
}

// Latest returns the most recent archive.
func (a *Archiver) Latest(ctx context.Context) (blob.Info, error) {
	infos, err := a.List(ctx)
	if err != nil {
		return blob.Info{}, err
	}
	if len(infos) == 0 {
		return blob.Info{}, ErrNoArchives
	}
	return infos[len(infos)-1], nil
}

// Restore replaces the committed state of dst with the archive stored at key.
func (a *Archiver) Restore(ctx context.Context, key string, dst Source) error {
	_, rc, err := a.blobs.Get(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()
	var env envelope
	if err := json.NewDecoder(rc).Decode(&env); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	if env.FormatVersion != FormatVersion {
		return fmt.Errorf("unsupported snapshot format version %d in %s", env.FormatVersion, key)
	}
	if err := dst.Restore(ctx, env.State); err != nil {
		return fmt.Errorf("restore %s: %w", key, err)
	}
	a.logger.Info("snapshot restored",
		zap.String("key", key),
		zap.Time("exported_at", env.ExportedAt),
		zap.Int("studies", len(env.State.Studies)))
	return nil
}
