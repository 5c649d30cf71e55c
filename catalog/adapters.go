package catalog

import (
	"context"

	"github.com/urpm-project/urpm/transaction"
)

// HistoryAdapter satisfies transaction.HistoryRecorder over a Store,
// translating its ok flag onto the catalog's own terminal HistoryState
// values.
type HistoryAdapter struct {
	Store *Store
}

var _ transaction.HistoryRecorder = HistoryAdapter{}

// Begin implements transaction.HistoryRecorder.
func (a HistoryAdapter) Begin(ctx context.Context) (int64, error) {
	return a.Store.InsertHistory(ctx)
}

// Finish implements transaction.HistoryRecorder.
func (a HistoryAdapter) Finish(ctx context.Context, id int64, ok bool, installed, upgraded, erased []string, errMsg string) error {
	state := HistoryFailed
	if ok {
		state = HistoryComplete
	}
	return a.Store.FinishHistory(ctx, id, state, installed, upgraded, erased, errMsg)
}

var _ transaction.HistorySource = HistoryAdapter{}

// Entries implements transaction.HistorySource.
func (a HistoryAdapter) Entries(ctx context.Context, limit int) ([]transaction.HistoryEntryView, error) {
	entries, err := a.Store.HistoryEntries(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]transaction.HistoryEntryView, len(entries))
	for i, e := range entries {
		out[i] = transaction.HistoryEntryView{
			ID: e.ID, State: string(e.State),
			Installed: e.Installed, Upgraded: e.Upgraded, Erased: e.Erased,
		}
	}
	return out, nil
}

// Entry implements transaction.HistorySource.
func (a HistoryAdapter) Entry(ctx context.Context, id int64) (transaction.HistoryEntryView, error) {
	e, err := a.Store.HistoryEntry(ctx, id)
	if err != nil {
		return transaction.HistoryEntryView{}, err
	}
	return transaction.HistoryEntryView{
		ID: e.ID, State: string(e.State),
		Installed: e.Installed, Upgraded: e.Upgraded, Erased: e.Erased,
	}, nil
}

// CacheAdapter satisfies transaction.CatalogSource over a Store, for the
// cache eviction task.
type CacheAdapter struct {
	Store *Store
}

var _ transaction.CatalogSource = CacheAdapter{}

// Media implements transaction.CatalogSource.
func (a CacheAdapter) Media(ctx context.Context) ([]transaction.MediaInfo, error) {
	medias, err := a.Store.Media(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]transaction.MediaInfo, len(medias))
	for i, m := range medias {
		out[i] = transaction.MediaInfo{Name: m.Name, ShortID: m.ShortID, QuotaBytes: m.QuotaBytes}
	}
	return out, nil
}

// CurrentNEVRAs implements transaction.CatalogSource.
func (a CacheAdapter) CurrentNEVRAs(ctx context.Context, media string) (map[string]bool, error) {
	set, err := a.Store.ExistingNEVRAs(ctx, media)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(set))
	for nevra := range set {
		out[nevra] = true
	}
	return out, nil
}

// HeldNames implements transaction.CatalogSource.
func (a CacheAdapter) HeldNames(ctx context.Context) (map[string]bool, error) {
	holds, err := a.Store.Holds(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(holds))
	for _, h := range holds {
		out[h.Name] = true
	}
	return out, nil
}
