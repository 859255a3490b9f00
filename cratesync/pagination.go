package cratesync

import (
	"sync"

	"golang.org/x/exp/slices"

	"github.com/golang/glog"
)

// fetches one page of at most `pageSize` items starting after `cursor`.
// `NoCursor` means the first page. items are returned in server order.
type FetchPageFunction[T PageItem] func(cursor Cursor, pageSize int) ([]T, error)

type ChangeFunction = func()

type PaginatedListSettings struct {
	PageSize int
}

func DefaultPaginatedListSettings() *PaginatedListSettings {
	return &PaginatedListSettings{
		PageSize: 15,
	}
}

// a resumable, deduplicated, appendable server-backed list.
//
// invariants:
// - `items` never contains two entries with the same id
// - items are never resorted client-side. the server order of a page is
//   authoritative and preserved on append
// - the cursor only advances forward. the list is only reset by an
//   explicit `Reset` or `Refresh`
//
// results of fetches dispatched before a `Reset`/`Refresh` are discarded
// by comparing the list version captured at dispatch time.
type PaginatedList[T PageItem] struct {
	settings *PaginatedListSettings

	stateLock sync.Mutex

	items   []T
	itemIds map[Id]bool
	cursor  Cursor
	hasMore bool

	loadingInitial bool
	loadingMore    bool
	err            error

	// bumped on every reset. fetch results are applied only if the
	// version at resolution matches the version at dispatch
	version int

	// externally-created items newer than the newest loaded item are
	// counted here instead of spliced in, to avoid reflows mid-scroll.
	// cleared only by a full replace (`LoadInitial`/`Refresh`)
	newItemsAvailable int

	changeCallbacks *CallbackList[ChangeFunction]
}

func NewPaginatedListWithDefaults[T PageItem]() *PaginatedList[T] {
	return NewPaginatedList[T](DefaultPaginatedListSettings())
}

func NewPaginatedList[T PageItem](settings *PaginatedListSettings) *PaginatedList[T] {
	return &PaginatedList[T]{
		settings:        settings,
		items:           []T{},
		itemIds:         map[Id]bool{},
		cursor:          NoCursor,
		changeCallbacks: NewCallbackList[ChangeFunction](),
	}
}

func (self *PaginatedList[T]) AddChangeCallback(changeCallback ChangeFunction) func() {
	callbackId := self.changeCallbacks.Add(changeCallback)
	return func() {
		self.changeCallbacks.Remove(callbackId)
	}
}

func (self *PaginatedList[T]) changed() {
	for _, changeCallback := range self.changeCallbacks.Get() {
		safeInvoke(changeCallback)
	}
}

func (self *PaginatedList[T]) Items() []T {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return slices.Clone(self.items)
}

func (self *PaginatedList[T]) Cursor() Cursor {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.cursor
}

func (self *PaginatedList[T]) HasMore() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.hasMore
}

func (self *PaginatedList[T]) IsLoadingInitial() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.loadingInitial
}

func (self *PaginatedList[T]) IsLoadingMore() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.loadingMore
}

func (self *PaginatedList[T]) Error() error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.err
}

func (self *PaginatedList[T]) NewItemsAvailable() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.newItemsAvailable
}

func (self *PaginatedList[T]) ContainsItem(itemId Id) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.itemIds[itemId]
}

// clears items and cursor atomically. in-flight fetch results are discarded.
func (self *PaginatedList[T]) Reset() {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		self.version += 1
		self.items = []T{}
		self.itemIds = map[Id]bool{}
		self.cursor = NoCursor
		self.hasMore = false
		self.loadingInitial = false
		self.loadingMore = false
		self.err = nil
		self.newItemsAvailable = 0
	}()
	self.changed()
}

// loads the first page. on success items are fully replaced.
// on failure items are left untouched and only the error is set.
func (self *PaginatedList[T]) LoadInitial(fetchPage FetchPageFunction[T]) error {
	return self.loadFirstPage(fetchPage, false)
}

// equivalent to `LoadInitial` but keeps the current items visible until
// the new page arrives. the only way besides `LoadInitial` to clear
// `newItemsAvailable`. a refresh supersedes an in-flight first-page load
func (self *PaginatedList[T]) Refresh(fetchPage FetchPageFunction[T]) error {
	return self.loadFirstPage(fetchPage, true)
}

func (self *PaginatedList[T]) loadFirstPage(fetchPage FetchPageFunction[T], supersede bool) error {
	var version int
	ok := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.loadingInitial && !supersede {
			// already loading
			return false
		}
		self.loadingInitial = true
		self.err = nil
		// discard results of fetches dispatched before this point
		self.version += 1
		version = self.version
		return true
	}()
	if !ok {
		return nil
	}
	self.changed()

	page, err := fetchPage(NoCursor, self.settings.PageSize)

	applied := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.version != version {
			// the list was reset while the fetch was in flight
			glog.V(2).Infof("[list]discard stale first page v%d != v%d\n", version, self.version)
			return false
		}
		self.loadingInitial = false
		if err != nil {
			self.err = err
			return true
		}

		items := []T{}
		itemIds := map[Id]bool{}
		for _, item := range page {
			if itemIds[item.ItemId()] {
				continue
			}
			itemIds[item.ItemId()] = true
			items = append(items, item)
		}
		self.items = items
		self.itemIds = itemIds
		if 0 < len(page) {
			self.cursor = page[len(page)-1].SortKey()
		} else {
			self.cursor = NoCursor
		}
		self.hasMore = len(page) == self.settings.PageSize
		self.newItemsAvailable = 0
		return true
	}()
	if !applied {
		// superseded while in flight. the newer load owns any error
		return nil
	}
	self.changed()
	return err
}

// appends the next page. a second `LoadMore` while one is outstanding is
// a no-op, not queued. a no-op when `hasMore` is false.
func (self *PaginatedList[T]) LoadMore(fetchPage FetchPageFunction[T]) error {
	var version int
	var cursor Cursor
	ok := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.loadingMore || self.loadingInitial || !self.hasMore {
			return false
		}
		self.loadingMore = true
		self.err = nil
		version = self.version
		cursor = self.cursor
		return true
	}()
	if !ok {
		return nil
	}
	self.changed()

	page, err := fetchPage(cursor, self.settings.PageSize)

	applied := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.version != version {
			glog.V(2).Infof("[list]discard stale page after %s\n", cursor)
			return false
		}
		self.loadingMore = false
		if err != nil {
			self.err = err
			return true
		}

		for _, item := range page {
			if self.itemIds[item.ItemId()] {
				// already present, e.g. delivered by the realtime bridge
				continue
			}
			self.itemIds[item.ItemId()] = true
			self.items = append(self.items, item)
		}
		if 0 < len(page) {
			self.cursor = page[len(page)-1].SortKey()
		}
		self.hasMore = len(page) == self.settings.PageSize
		return true
	}()
	if !applied {
		// superseded while in flight. the newer load owns any error
		return nil
	}
	self.changed()
	return err
}

type listSnapshot[T PageItem] struct {
	items   []T
	cursor  Cursor
	hasMore bool
	version int
}

// captures the visible state for exact rollback of a compound
// optimistic mutation
func (self *PaginatedList[T]) capture() *listSnapshot[T] {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return &listSnapshot[T]{
		items:   slices.Clone(self.items),
		cursor:  self.cursor,
		hasMore: self.hasMore,
		version: self.version,
	}
}

// restores a captured snapshot. a no-op if the list was reset since the
// capture, since the rollback target no longer exists
func (self *PaginatedList[T]) restore(snapshot *listSnapshot[T]) {
	restored := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.version != snapshot.version {
			return false
		}
		self.items = slices.Clone(snapshot.items)
		self.itemIds = map[Id]bool{}
		for _, item := range self.items {
			self.itemIds[item.ItemId()] = true
		}
		self.cursor = snapshot.cursor
		self.hasMore = snapshot.hasMore
		return true
	}()
	if restored {
		self.changed()
	}
}

// called by the realtime bridge for an externally-created item.
// a duplicate id is ignored. an item newer than the newest loaded item
// increments `newItemsAvailable` instead of being spliced in
func (self *PaginatedList[T]) NotifyItemCreated(item T) {
	changed := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.itemIds[item.ItemId()] {
			// the later authoritative fetch will refresh details
			return false
		}
		if len(self.items) == 0 || self.items[0].SortKey() < item.SortKey() {
			self.newItemsAvailable += 1
			return true
		}
		// older than the newest loaded item. leave it to pagination
		return false
	}()
	if changed {
		self.changed()
	}
}

// replaces the item with the same id, if present
func (self *PaginatedList[T]) UpdateItem(itemId Id, update func(T) T) {
	changed := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		for i, item := range self.items {
			if item.ItemId() == itemId {
				self.items[i] = update(item)
				return true
			}
		}
		return false
	}()
	if changed {
		self.changed()
	}
}

func (self *PaginatedList[T]) RemoveItem(itemId Id) {
	changed := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if !self.itemIds[itemId] {
			return false
		}
		delete(self.itemIds, itemId)
		for i, item := range self.items {
			if item.ItemId() == itemId {
				self.items = append(self.items[:i], self.items[i+1:]...)
				break
			}
		}
		return true
	}()
	if changed {
		self.changed()
	}
}

// appends a locally-created item, e.g. an optimistic comment.
// the cursor is not advanced; local items are not part of the paged window
func (self *PaginatedList[T]) AppendLocalItem(item T) bool {
	added := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.itemIds[item.ItemId()] {
			return false
		}
		self.itemIds[item.ItemId()] = true
		self.items = append(self.items, item)
		return true
	}()
	if added {
		self.changed()
	}
	return added
}

// replaces a locally-created item with its authoritative value,
// keeping the insert position
func (self *PaginatedList[T]) ReplaceLocalItem(tempId Id, item T) bool {
	replaced := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if !self.itemIds[tempId] {
			return false
		}
		if tempId != item.ItemId() && self.itemIds[item.ItemId()] {
			// the authoritative item already arrived via the bridge.
			// drop the local one
			delete(self.itemIds, tempId)
			for i, existing := range self.items {
				if existing.ItemId() == tempId {
					self.items = append(self.items[:i], self.items[i+1:]...)
					break
				}
			}
			return true
		}
		delete(self.itemIds, tempId)
		self.itemIds[item.ItemId()] = true
		for i, existing := range self.items {
			if existing.ItemId() == tempId {
				self.items[i] = item
				break
			}
		}
		return true
	}()
	if replaced {
		self.changed()
	}
	return replaced
}
