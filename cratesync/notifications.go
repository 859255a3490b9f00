package cratesync

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"
)

// the authenticated user's notification list plus unread counter.
// new notifications arrive over the push channel and are folded into the
// paginated list; the unread count is always re-fetched authoritatively
type NotificationStore struct {
	api        *CrateDigApi
	subscriber Subscriber
	executor   *MutationExecutor

	list *PaginatedList[*Notification]

	stateLock sync.Mutex

	unreadCount int

	bridge *Bridge

	changeCallbacks *CallbackList[ChangeFunction]
}

func NewNotificationStoreWithDefaults(api *CrateDigApi, subscriber Subscriber) *NotificationStore {
	return NewNotificationStore(api, subscriber, DefaultPaginatedListSettings())
}

func NewNotificationStore(api *CrateDigApi, subscriber Subscriber, listSettings *PaginatedListSettings) *NotificationStore {
	return &NotificationStore{
		api:             api,
		subscriber:      subscriber,
		executor:        NewMutationExecutor(),
		list:            NewPaginatedList[*Notification](listSettings),
		changeCallbacks: NewCallbackList[ChangeFunction](),
	}
}

func (self *NotificationStore) Name() string {
	return "notifications"
}

func (self *NotificationStore) AddChangeCallback(changeCallback ChangeFunction) func() {
	callbackId := self.changeCallbacks.Add(changeCallback)
	return func() {
		self.changeCallbacks.Remove(callbackId)
	}
}

func (self *NotificationStore) changed() {
	for _, changeCallback := range self.changeCallbacks.Get() {
		safeInvoke(changeCallback)
	}
}

func (self *NotificationStore) List() *PaginatedList[*Notification] {
	return self.list
}

func (self *NotificationStore) UnreadCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.unreadCount
}

func (self *NotificationStore) setUnreadCount(unreadCount int) {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		self.unreadCount = unreadCount
	}()
	self.changed()
}

func (self *NotificationStore) fetchPage(cursor Cursor, pageSize int) ([]*Notification, error) {
	result, err := self.api.NotificationsPageSync(cursor, pageSize)
	if err != nil {
		return nil, err
	}
	return result.Notifications, nil
}

func (self *NotificationStore) LoadMore() error {
	return self.list.LoadMore(self.fetchPage)
}

func (self *NotificationStore) Refresh() error {
	return self.list.Refresh(self.fetchPage)
}

func (self *NotificationStore) refetchUnread() {
	result, err := self.api.UnreadCountSync()
	if err != nil {
		return
	}
	self.setUnreadCount(result.UnreadCount)
}

func (self *NotificationStore) Initialize(ctx context.Context, userId Id) error {
	if err := self.list.LoadInitial(self.fetchPage); err != nil {
		return err
	}
	result, err := self.api.UnreadCountSync()
	if err != nil {
		return err
	}
	self.setUnreadCount(result.UnreadCount)

	bridge := NewBridge(self.subscriber)
	channelKey := fmt.Sprintf("user/%s/notifications", userId)
	onError := func(err error) {
		glog.Infof("[notif]subscription error = %s\n", err)
	}
	onEvent := func(event *Event) {
		ListEventHandler(
			self.list,
			func(Id, CounterKind) {
				self.refetchUnread()
			},
			onError,
		)(event)
		if event.Kind == EventKindItemCreated {
			// a push-delivered notification is unread by definition,
			// but the count is still fetched authoritatively
			self.refetchUnread()
		}
	}
	if err := bridge.Subscribe(channelKey, onEvent, onError); err != nil {
		return err
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.bridge = bridge
	return nil
}

func (self *NotificationStore) Cleanup() {
	var bridge *Bridge
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		bridge = self.bridge
		self.bridge = nil
		self.unreadCount = 0
	}()
	if bridge != nil {
		bridge.Close()
	}
	self.list.Reset()
	self.changed()
}

// marks the given notifications read optimistically, then reconciles the
// unread count with the authoritative result
func (self *NotificationStore) MarkRead(notificationIds []Id) error {
	_, err := DispatchMutation(self.executor, &Mutation[*MarkNotificationsReadResult]{
		Target: "notifications/mark-read",
		Apply: func() UndoFunction {
			type prior struct {
				notificationId Id
				read           bool
			}
			priors := []prior{}
			for _, notificationId := range notificationIds {
				id := notificationId
				self.list.UpdateItem(id, func(notification *Notification) *Notification {
					priors = append(priors, prior{
						notificationId: id,
						read:           notification.Read,
					})
					updated := *notification
					updated.Read = true
					return &updated
				})
			}
			priorUnread := self.UnreadCount()
			unread := priorUnread
			for _, p := range priors {
				if !p.read {
					unread -= 1
				}
			}
			if unread < 0 {
				unread = 0
			}
			self.setUnreadCount(unread)

			return func() {
				for _, p := range priors {
					p := p
					self.list.UpdateItem(p.notificationId, func(notification *Notification) *Notification {
						updated := *notification
						updated.Read = p.read
						return &updated
					})
				}
				self.setUnreadCount(priorUnread)
			}
		},
		Commit: func() (*MarkNotificationsReadResult, error) {
			return self.api.MarkNotificationsReadSync(&MarkNotificationsReadArgs{
				NotificationIds: notificationIds,
			})
		},
		Confirm: func(result *MarkNotificationsReadResult) {
			self.setUnreadCount(result.UnreadCount)
		},
		RefreshOnConflict: func() {
			self.refetchUnread()
		},
	})
	return err
}
