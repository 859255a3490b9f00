package cratesync

import (
	"fmt"
	"sync"
)

// the user's crate: the collection and wishlist shelves plus the
// compound move operation between them.
//
// the gateway is not assumed to be atomic for the remove+add pair of a
// move, so both sides of the optimistic update are captured up front and
// rolled back together on any failure. the item is never left duplicated
// in both shelves or missing from both
type Crate struct {
	api        *CrateDigApi
	subscriber Subscriber
	executor   *MutationExecutor
	counters   *CounterStore

	collectionList *PaginatedList[*Vinyl]
	wishlistList   *PaginatedList[*Vinyl]

	stateLock sync.Mutex
	bridge    *Bridge
}

func NewCrateWithDefaults(api *CrateDigApi, subscriber Subscriber, counters *CounterStore) *Crate {
	return NewCrate(api, subscriber, counters, DefaultPaginatedListSettings())
}

func NewCrate(api *CrateDigApi, subscriber Subscriber, counters *CounterStore, listSettings *PaginatedListSettings) *Crate {
	return &Crate{
		api:            api,
		subscriber:     subscriber,
		executor:       NewMutationExecutor(),
		counters:       counters,
		collectionList: NewPaginatedList[*Vinyl](listSettings),
		wishlistList:   NewPaginatedList[*Vinyl](listSettings),
	}
}

func (self *Crate) List(shelf Shelf) *PaginatedList[*Vinyl] {
	switch shelf {
	case ShelfWishlist:
		return self.wishlistList
	default:
		return self.collectionList
	}
}

func (self *Crate) fetchPage(shelf Shelf) FetchPageFunction[*Vinyl] {
	return func(cursor Cursor, pageSize int) ([]*Vinyl, error) {
		result, err := self.api.CratePageSync(shelf, cursor, pageSize)
		if err != nil {
			return nil, err
		}
		return result.Vinyls, nil
	}
}

func (self *Crate) LoadInitial(shelf Shelf) error {
	return self.List(shelf).LoadInitial(self.fetchPage(shelf))
}

func (self *Crate) LoadMore(shelf Shelf) error {
	return self.List(shelf).LoadMore(self.fetchPage(shelf))
}

func (self *Crate) Refresh(shelf Shelf) error {
	return self.List(shelf).Refresh(self.fetchPage(shelf))
}

// opens the crate push channel. crate events from other devices of the
// same user are routed to the shelf named in the payload
func (self *Crate) Subscribe(userId Id, onError ErrorFunction) error {
	self.stateLock.Lock()
	if self.bridge == nil {
		self.bridge = NewBridge(self.subscriber)
	}
	bridge := self.bridge
	self.stateLock.Unlock()

	onEvent := func(event *Event) {
		switch event.Kind {
		case EventKindItemCreated, EventKindItemUpdated:
			vinyl, err := DecodeEventItem[*Vinyl](event)
			if err != nil {
				safeInvoke(func() {
					onError(err)
				})
				return
			}
			target := self.List(vinyl.Shelf)
			other := self.otherList(vinyl.Shelf)
			// an update can be a move between shelves
			other.RemoveItem(event.ItemId)
			if event.Kind == EventKindItemCreated {
				target.NotifyItemCreated(vinyl)
			} else {
				if target.ContainsItem(event.ItemId) {
					target.UpdateItem(event.ItemId, func(*Vinyl) *Vinyl {
						return vinyl
					})
				} else {
					target.NotifyItemCreated(vinyl)
				}
			}
		case EventKindItemDeleted:
			self.collectionList.RemoveItem(event.ItemId)
			self.wishlistList.RemoveItem(event.ItemId)
		case EventKindCounterChanged:
			self.counters.refetch()
		}
	}
	return bridge.Subscribe(fmt.Sprintf("user/%s/crate", userId), onEvent, onError)
}

func (self *Crate) Unsubscribe() {
	self.stateLock.Lock()
	bridge := self.bridge
	self.stateLock.Unlock()

	if bridge != nil {
		bridge.Close()
	}
}

func (self *Crate) Reset() {
	self.Unsubscribe()
	self.collectionList.Reset()
	self.wishlistList.Reset()
}

func (self *Crate) otherList(shelf Shelf) *PaginatedList[*Vinyl] {
	switch shelf {
	case ShelfWishlist:
		return self.collectionList
	default:
		return self.wishlistList
	}
}

// adds a vinyl optimistically under a temp id, replaced by the
// authoritative vinyl on settlement
func (self *Crate) AddVinyl(args *AddVinylArgs) (*Vinyl, error) {
	tempId := NewId()
	temp := &Vinyl{
		VinylId: tempId,
		Title:   args.Title,
		Artist:  args.Artist,
		Year:    args.Year,
		Shelf:   args.Shelf,
	}
	list := self.List(args.Shelf)

	collectionDelta, wishlistDelta := shelfDeltas(args.Shelf, 1)

	result, err := DispatchMutation(self.executor, &Mutation[*AddVinylResult]{
		Target: fmt.Sprintf("crate/%s", tempId),
		Apply: func() UndoFunction {
			list.AppendLocalItem(temp)
			self.counters.Adjust(collectionDelta, wishlistDelta)
			return func() {
				list.RemoveItem(tempId)
				self.counters.Adjust(-collectionDelta, -wishlistDelta)
			}
		},
		Commit: func() (*AddVinylResult, error) {
			return self.api.AddVinylSync(args)
		},
		Confirm: func(result *AddVinylResult) {
			if result.Vinyl != nil {
				list.ReplaceLocalItem(tempId, result.Vinyl)
			}
		},
		RefreshOnConflict: func() {
			self.counters.refetch()
		},
	})
	if err != nil {
		return nil, err
	}
	return result.Vinyl, nil
}

func (self *Crate) RemoveVinyl(vinylId Id) error {
	shelf, ok := self.findShelf(vinylId)
	if !ok {
		return &NotFoundError{
			Op: "remove vinyl",
			Id: vinylId,
		}
	}
	list := self.List(shelf)
	collectionDelta, wishlistDelta := shelfDeltas(shelf, -1)

	_, err := DispatchMutation(self.executor, &Mutation[*RemoveVinylResult]{
		Target: fmt.Sprintf("crate/%s", vinylId),
		Apply: func() UndoFunction {
			snapshot := list.capture()
			list.RemoveItem(vinylId)
			self.counters.Adjust(collectionDelta, wishlistDelta)
			return func() {
				list.restore(snapshot)
				self.counters.Adjust(-collectionDelta, -wishlistDelta)
			}
		},
		Commit: func() (*RemoveVinylResult, error) {
			return self.api.RemoveVinylSync(&RemoveVinylArgs{
				VinylId: vinylId,
			})
		},
		RefreshOnConflict: func() {
			self.counters.refetch()
		},
	})
	return err
}

// moves a vinyl between shelves. both sides of the optimistic update are
// applied together and rolled back together on any failure
func (self *Crate) MoveVinyl(vinylId Id, toShelf Shelf) error {
	fromShelf, ok := self.findShelf(vinylId)
	if !ok {
		return &NotFoundError{
			Op: "move vinyl",
			Id: vinylId,
		}
	}
	if fromShelf == toShelf {
		return nil
	}

	fromList := self.List(fromShelf)
	toList := self.List(toShelf)
	fromCollectionDelta, fromWishlistDelta := shelfDeltas(fromShelf, -1)
	toCollectionDelta, toWishlistDelta := shelfDeltas(toShelf, 1)
	collectionDelta := fromCollectionDelta + toCollectionDelta
	wishlistDelta := fromWishlistDelta + toWishlistDelta

	var moved *Vinyl
	for _, vinyl := range fromList.Items() {
		if vinyl.VinylId == vinylId {
			movedCopy := *vinyl
			movedCopy.Shelf = toShelf
			moved = &movedCopy
			break
		}
	}
	if moved == nil {
		return &NotFoundError{
			Op: "move vinyl",
			Id: vinylId,
		}
	}

	_, err := DispatchMutation(self.executor, &Mutation[*MoveVinylResult]{
		Target: fmt.Sprintf("crate/%s", vinylId),
		Apply: func() UndoFunction {
			fromSnapshot := fromList.capture()
			toSnapshot := toList.capture()
			fromList.RemoveItem(vinylId)
			toList.AppendLocalItem(moved)
			self.counters.Adjust(collectionDelta, wishlistDelta)
			return func() {
				toList.restore(toSnapshot)
				fromList.restore(fromSnapshot)
				self.counters.Adjust(-collectionDelta, -wishlistDelta)
			}
		},
		Commit: func() (*MoveVinylResult, error) {
			return self.api.MoveVinylSync(&MoveVinylArgs{
				VinylId: vinylId,
				Shelf:   toShelf,
			})
		},
		Confirm: func(result *MoveVinylResult) {
			if result.Vinyl != nil {
				toList.ReplaceLocalItem(vinylId, result.Vinyl)
			}
		},
		RefreshOnConflict: func() {
			self.counters.refetch()
		},
	})
	return err
}

func (self *Crate) findShelf(vinylId Id) (Shelf, bool) {
	if self.collectionList.ContainsItem(vinylId) {
		return ShelfCollection, true
	}
	if self.wishlistList.ContainsItem(vinylId) {
		return ShelfWishlist, true
	}
	return "", false
}

// the (collection, wishlist) count deltas of adding `delta` items to `shelf`
func shelfDeltas(shelf Shelf, delta int) (int, int) {
	switch shelf {
	case ShelfWishlist:
		return 0, delta
	default:
		return delta, 0
	}
}
