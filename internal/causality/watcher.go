// Package causality remembers which build configurations recently caused a
// clean checkout of another configuration, and forgets those records once
// they are stale.
package causality

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/loykin/swabra/internal/build"
	"github.com/loykin/swabra/internal/feature"
	"github.com/loykin/swabra/internal/history"
	"github.com/loykin/swabra/internal/metrics"
	"github.com/loykin/swabra/internal/properties"
	"github.com/loykin/swabra/internal/store"
)

const (
	// StorageName names the per-configuration storage holding cause -> millis.
	StorageName = "swabra.clean.checkout.builds.storage"

	// StoragePeriodProperty overrides the record TTL, in milliseconds.
	StoragePeriodProperty = "teamcity.healthStatus.swabra.clean.checkout.builds.storage.period"

	// Month is the default record TTL in milliseconds.
	Month int64 = 30 * 24 * 3600 * 1000
)

// Responsibility tells whether this node may mutate project configuration data.
type Responsibility interface {
	CanManageProjectConfigs() bool
}

// StaticResponsibility is a fixed Responsibility, set from node configuration.
type StaticResponsibility bool

func (s StaticResponsibility) CanManageProjectConfigs() bool { return bool(s) }

// CleanupReport summarises one CleanOldValues pass.
type CleanupReport struct {
	Visited     int  `json:"visited"`
	Deleted     int  `json:"deleted"`
	Interrupted bool `json:"interrupted"`
}

type Watcher struct {
	store    store.Store
	registry build.Registry
	resp     Responsibility
	props    properties.Properties
	sink     history.Sink
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Watcher)

func WithResponsibility(r Responsibility) Option { return func(w *Watcher) { w.resp = r } }

func WithProperties(p properties.Properties) Option { return func(w *Watcher) { w.props = p } }

// WithHistory sends every recorded and deleted cause to sink.
func WithHistory(sink history.Sink) Option { return func(w *Watcher) { w.sink = sink } }

func WithClock(now func() time.Time) Option { return func(w *Watcher) { w.now = now } }

func WithLogger(l *slog.Logger) Option { return func(w *Watcher) { w.logger = l } }

// NewWatcher builds a watcher. Without options the node is responsible for
// project configurations and the TTL is Month.
func NewWatcher(st store.Store, reg build.Registry, opts ...Option) *Watcher {
	w := &Watcher{
		store:    st,
		registry: reg,
		resp:     StaticResponsibility(true),
		props:    properties.NewMap(nil),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Watcher) storage(owner string) store.Storage {
	return w.store.Storage(owner, StorageName)
}

// RecordCause remembers that cause triggered a clean checkout of owner at when.
// A later call for the same pair replaces the timestamp.
func (w *Watcher) RecordCause(ctx context.Context, owner, cause string, when time.Time) error {
	if err := w.storage(owner).Put(ctx, cause, strconv.FormatInt(when.UnixMilli(), 10)); err != nil {
		return err
	}
	metrics.IncCauseRecorded()
	w.emit(ctx, history.Event{Type: history.EventRecorded, OccurredAt: when, Owner: owner, Cause: cause})
	return nil
}

// OnBuildFinished records the clean checkout cause reported by a finished
// build. It does nothing when this node is not responsible for project
// configurations, when the build has no known configuration, or when no
// cause was reported.
func (w *Watcher) OnBuildFinished(ctx context.Context, run build.Run) error {
	if !w.resp.CanManageProjectConfigs() {
		return nil
	}
	if run.BuildTypeID == "" {
		return nil
	}
	if _, ok, err := w.registry.FindBuildType(ctx, run.BuildTypeID); err != nil {
		return err
	} else if !ok {
		w.logger.Debug("finished build has no configuration", "build", run.ID, "build_type", run.BuildTypeID)
		return nil
	}
	cause := run.Parameter(feature.CleanCheckoutCauseBuildTypeID)
	if cause == "" {
		return nil
	}
	return w.RecordCause(ctx, run.BuildTypeID, cause, w.now())
}

// RecentCauses returns the ids of configurations which recently caused a
// clean checkout of owner, sorted. It never returns nil.
func (w *Watcher) RecentCauses(ctx context.Context, owner string) ([]string, error) {
	values, err := w.storage(owner).Values(ctx)
	if err != nil {
		return nil, err
	}
	return sortedKeys(values), nil
}

// Forget drops every record owned by a deleted configuration.
func (w *Watcher) Forget(ctx context.Context, owner string) error {
	return w.store.RemoveOwner(ctx, owner)
}

// AfterCleanup runs CleanOldValues as a step of a server cleanup cycle.
func (w *Watcher) AfterCleanup(ctx context.Context) error {
	_, err := w.CleanOldValues(ctx)
	return err
}

// CleanOldValues deletes records whose timestamp is unparsable or older than
// the configured period, and records whose cause configuration no longer
// exists. It stops as soon as ctx is done, leaving the remaining records for
// the next pass. Storage failures on one configuration are logged and the
// pass moves on.
func (w *Watcher) CleanOldValues(ctx context.Context) (CleanupReport, error) {
	var report CleanupReport
	now := w.now().UnixMilli()
	ttl := w.props.Int64(StoragePeriodProperty, Month)

	types, err := w.registry.ActiveBuildTypes(ctx)
	if err != nil {
		return report, err
	}

	for _, bt := range types {
		if ctx.Err() != nil {
			report.Interrupted = true
			break
		}
		st := w.storage(bt.ID)
		values, err := st.Values(ctx)
		if err != nil {
			w.logger.Warn("failed to read clean checkout causes", "build_type", bt.ID, "error", err)
			continue
		}
		if values == nil {
			continue
		}

		for _, cause := range sortedKeys(values) {
			if ctx.Err() != nil {
				report.Interrupted = true
				break
			}
			report.Visited++
			reason := w.staleReason(ctx, cause, values[cause], now, ttl)
			if reason == "" {
				continue
			}
			if err := st.Remove(ctx, cause); err != nil {
				w.logger.Warn("failed to remove clean checkout cause", "build_type", bt.ID, "cause", cause, "error", err)
				continue
			}
			report.Deleted++
			metrics.IncCauseDeleted(reason)
			w.emit(ctx, history.Event{Type: history.EventExpired, OccurredAt: w.now(), Owner: bt.ID, Cause: cause, Reason: reason})
		}
		if report.Interrupted {
			break
		}
	}

	w.logger.Info("clean checkout causes cleaned",
		"visited", report.Visited, "deleted", report.Deleted, "interrupted", report.Interrupted)
	return report, nil
}

// staleReason returns the history reason for deleting the record, or "" to keep it.
func (w *Watcher) staleReason(ctx context.Context, cause, value string, now, ttl int64) string {
	ts, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return history.ReasonUnparsable
	}
	if now-ts > ttl {
		return history.ReasonExpired
	}
	_, ok, err := w.registry.FindBuildType(ctx, cause)
	if err != nil {
		w.logger.Warn("failed to look up cause configuration", "cause", cause, "error", err)
		return ""
	}
	if !ok {
		return history.ReasonUnknownCause
	}
	return ""
}

func (w *Watcher) emit(ctx context.Context, e history.Event) {
	if w.sink == nil {
		return
	}
	if err := w.sink.Send(ctx, e); err != nil {
		w.logger.Warn("failed to send history event", "type", e.Type, "owner", e.Owner, "cause", e.Cause, "error", err)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
