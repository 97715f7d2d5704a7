package voice

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"cosyvoice-gateway/internal/domain/voice/store"
	platformerrors "cosyvoice-gateway/internal/platform/errors"
	"cosyvoice-gateway/internal/platform/logging"
)

// Cloner is the engine-side contract the registry uses to materialise a
// cloned speaker from reference audio.
type Cloner interface {
	CloneVoice(ctx context.Context, name string, sample []byte) (string, error)
	DeleteVoice(ctx context.Context, speakerRef string) error
}

// builtins mirrors the OpenAI voice aliases onto engine preset speakers.
// Order here is the listing order.
var builtins = []Entry{
	{Name: "alloy", Kind: KindBuiltIn, SpeakerRef: "中文女", Language: "zh"},
	{Name: "echo", Kind: KindBuiltIn, SpeakerRef: "中文男", Language: "zh"},
	{Name: "fable", Kind: KindBuiltIn, SpeakerRef: "英文女", Language: "en"},
	{Name: "onyx", Kind: KindBuiltIn, SpeakerRef: "英文男", Language: "en"},
	{Name: "nova", Kind: KindBuiltIn, SpeakerRef: "日语女", Language: "ja"},
	{Name: "shimmer", Kind: KindBuiltIn, SpeakerRef: "韩语女", Language: "ko"},
}

// Registry resolves symbolic voice names to synthesis parameters. Reads take
// a shared lock and never wait on in-flight clones; clone registrations are
// serialised among themselves by cloneMu and only take the write lock for the
// final map insert, so an entry becomes visible atomically.
type Registry struct {
	mu          sync.RWMutex
	entries     map[string]Entry
	clonedOrder []string

	cloneMu sync.Mutex

	store            store.Store
	cloner           Cloner
	sampleDir        string
	maxSampleSeconds float64
	logger           *logging.Logger
}

// Options configures a Registry.
type Options struct {
	Store            store.Store
	Cloner           Cloner
	SampleDir        string
	MaxSampleSeconds float64
	Logger           *logging.Logger
}

// NewRegistry seeds the built-in aliases and restores persisted cloned
// entries from the configured store.
func NewRegistry(ctx context.Context, opts Options) (*Registry, error) {
	if opts.Logger == nil {
		opts.Logger = logging.DefaultLogger
	}

	r := &Registry{
		entries:          make(map[string]Entry, len(builtins)),
		store:            opts.Store,
		cloner:           opts.Cloner,
		sampleDir:        opts.SampleDir,
		maxSampleSeconds: opts.MaxSampleSeconds,
		logger:           opts.Logger,
	}

	for _, entry := range builtins {
		entry.CreatedAt = time.Now()
		r.entries[entry.Name] = entry
	}

	if r.store != nil {
		persisted, err := r.store.Load(ctx)
		if err != nil {
			return nil, platformerrors.Wrap(platformerrors.KindStorage, "voice.restore", "load cloned voices", err)
		}
		for _, rec := range persisted {
			if _, exists := r.entries[rec.Name]; exists {
				r.logger.Warn("[VOICE] skipping persisted voice %q: name collides with built-in", rec.Name)
				continue
			}
			entry := entryFromRecord(rec)
			r.entries[entry.Name] = entry
			r.clonedOrder = append(r.clonedOrder, entry.Name)
		}
		if len(r.clonedOrder) > 0 {
			r.logger.Info("[VOICE] restored %d cloned voice(s)", len(r.clonedOrder))
		}
	}

	return r, nil
}

// Resolve maps a voice name to its entry.
func (r *Registry) Resolve(name string) (Entry, error) {
	r.mu.RLock()
	entry, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok {
		return Entry{}, platformerrors.New(platformerrors.KindNotFound, "voice.resolve",
			fmt.Sprintf("unknown voice %q", name))
	}
	return entry, nil
}

// List returns all entries: built-ins first in fixed order, then cloned
// entries in registration order.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, b := range builtins {
		out = append(out, r.entries[b.Name])
	}
	for _, name := range r.clonedOrder {
		out = append(out, r.entries[name])
	}
	return out
}

// RegisterCloned validates the sample, registers the speaker with the engine
// and publishes the new entry. Any failure leaves the registry unchanged.
func (r *Registry) RegisterCloned(ctx context.Context, name string, sample []byte, description, language string) (Entry, error) {
	const op = "voice.register_cloned"

	if name == "" {
		return Entry{}, platformerrors.New(platformerrors.KindValidation, op, "voice name required")
	}

	info, err := ValidateSample(sample, r.maxSampleSeconds)
	if err != nil {
		return Entry{}, err
	}

	// Serialise clones without blocking readers.
	r.cloneMu.Lock()
	defer r.cloneMu.Unlock()

	r.mu.RLock()
	_, exists := r.entries[name]
	r.mu.RUnlock()
	if exists {
		return Entry{}, platformerrors.New(platformerrors.KindConflict, op,
			fmt.Sprintf("voice %q already exists", name))
	}

	samplePath, err := r.writeSample(name, sample, info.Format)
	if err != nil {
		return Entry{}, err
	}

	speakerRef, err := r.cloner.CloneVoice(ctx, name, sample)
	if err != nil {
		_ = os.Remove(samplePath)
		return Entry{}, platformerrors.Wrap(platformerrors.KindEngine, op, "engine clone failed", err)
	}

	entry := Entry{
		Name:        name,
		Kind:        KindCloned,
		SpeakerRef:  speakerRef,
		Language:    language,
		Description: description,
		SamplePath:  samplePath,
		CreatedAt:   time.Now(),
	}

	if r.store != nil {
		if err := r.store.Save(ctx, recordFromEntry(entry)); err != nil {
			_ = os.Remove(samplePath)
			_ = r.cloner.DeleteVoice(ctx, speakerRef)
			return Entry{}, platformerrors.Wrap(platformerrors.KindStorage, op, "persist cloned voice", err)
		}
	}

	r.mu.Lock()
	r.entries[name] = entry
	r.clonedOrder = append(r.clonedOrder, name)
	r.mu.Unlock()

	r.logger.Info("[VOICE] cloned voice registered: %s (%.1fs %s sample)", name, info.Duration, info.Format)
	return entry, nil
}

// Delete removes a cloned voice. Built-in voices cannot be removed; unknown
// names report not found. Removal is administrative, never automatic.
func (r *Registry) Delete(ctx context.Context, name string) error {
	const op = "voice.delete"

	r.cloneMu.Lock()
	defer r.cloneMu.Unlock()

	r.mu.RLock()
	entry, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok || entry.IsBuiltIn() {
		return platformerrors.New(platformerrors.KindNotFound, op,
			fmt.Sprintf("no cloned voice %q", name))
	}

	if r.store != nil {
		if err := r.store.Delete(ctx, name); err != nil {
			return platformerrors.Wrap(platformerrors.KindStorage, op, "delete cloned voice", err)
		}
	}

	if r.cloner != nil {
		if err := r.cloner.DeleteVoice(ctx, entry.SpeakerRef); err != nil {
			r.logger.Warn("[VOICE] engine delete for %s failed: %v", name, err)
		}
	}
	if entry.SamplePath != "" {
		_ = os.Remove(entry.SamplePath)
	}

	r.mu.Lock()
	delete(r.entries, name)
	for i, n := range r.clonedOrder {
		if n == name {
			r.clonedOrder = append(r.clonedOrder[:i], r.clonedOrder[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.logger.Info("[VOICE] cloned voice deleted: %s", name)
	return nil
}

func entryFromRecord(rec store.Record) Entry {
	return Entry{
		Name:        rec.Name,
		Kind:        KindCloned,
		SpeakerRef:  rec.SpeakerRef,
		Language:    rec.Language,
		Description: rec.Description,
		SamplePath:  rec.SamplePath,
		CreatedAt:   rec.CreatedAt,
	}
}

func recordFromEntry(entry Entry) store.Record {
	return store.Record{
		Name:        entry.Name,
		SpeakerRef:  entry.SpeakerRef,
		Language:    entry.Language,
		Description: entry.Description,
		SamplePath:  entry.SamplePath,
		CreatedAt:   entry.CreatedAt,
	}
}

func (r *Registry) writeSample(name string, sample []byte, format string) (string, error) {
	if r.sampleDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(r.sampleDir, 0o755); err != nil {
		return "", platformerrors.Wrap(platformerrors.KindStorage, "voice.write_sample", "create sample dir", err)
	}
	path := filepath.Join(r.sampleDir, fmt.Sprintf("%s_%s.%s", name, uuid.NewString()[:8], format))
	if err := os.WriteFile(path, sample, 0o644); err != nil {
		return "", platformerrors.Wrap(platformerrors.KindStorage, "voice.write_sample", "write sample file", err)
	}
	return path, nil
}
