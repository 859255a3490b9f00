package cratesync

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"
)

// the SDK facade. wires the gateway api, the session monitor, the
// lifecycle coordinator with its stores, and the realtime transport.
//
// the realtime client is owned here on behalf of the coordinator: it is
// created on session connect and closed on disconnect. stores hold the
// stable `Subscriber` view of it and never touch the connection itself
type Client struct {
	ctx    context.Context
	cancel context.CancelFunc

	config *ClientConfig

	api            *CrateDigApi
	sessionMonitor *SessionMonitor

	userStore         *UserStore
	notificationStore *NotificationStore
	counterStore      *CounterStore
	coordinator       *LifecycleCoordinator

	crate *Crate

	cache *SnapshotCache

	stateLock sync.Mutex

	sessionToken string
	realtime     *RealtimeClient
}

func NewClientWithDefaults(ctx context.Context) *Client {
	return NewClient(ctx, DefaultClientConfig())
}

func NewClient(ctx context.Context, config *ClientConfig) *Client {
	cancelCtx, cancel := context.WithCancel(ctx)

	client := &Client{
		ctx:            cancelCtx,
		cancel:         cancel,
		config:         config,
		api:            NewCrateDigApiWithContext(cancelCtx, config.ApiUrl),
		sessionMonitor: NewSessionMonitor(),
	}

	client.userStore = NewUserStore(client.api)
	client.notificationStore = NewNotificationStore(client.api, client, config.ListSettings())
	client.counterStore = NewCounterStore(client.api, client)
	client.crate = NewCrate(client.api, client, client.counterStore, config.ListSettings())

	client.coordinator = NewLifecycleCoordinator(
		cancelCtx,
		client.sessionMonitor,
		client.userStore,
		client.notificationStore,
		client.counterStore,
	)
	client.coordinator.SetTransportOwner(client)

	if config.CachePath != "" {
		cache, err := OpenSnapshotCache(config.CachePath)
		if err != nil {
			glog.Infof("[client]cache disabled = %s\n", err)
		} else {
			client.cache = cache
			client.watchCache()
		}
	}

	client.coordinator.Start()
	return client
}

func (self *Client) Api() *CrateDigApi {
	return self.api
}

func (self *Client) SessionMonitor() *SessionMonitor {
	return self.sessionMonitor
}

func (self *Client) Coordinator() *LifecycleCoordinator {
	return self.coordinator
}

func (self *Client) UserStore() *UserStore {
	return self.userStore
}

func (self *Client) NotificationStore() *NotificationStore {
	return self.notificationStore
}

func (self *Client) CounterStore() *CounterStore {
	return self.counterStore
}

func (self *Client) Crate() *Crate {
	return self.crate
}

func (self *Client) NewFeed() *Feed {
	return NewFeed(self.api, self, self.config.ListSettings())
}

func (self *Client) NewProfileView() *ProfileView {
	return NewProfileView(self.api)
}

func (self *Client) NewSearch(query string) *SearchView {
	return NewSearchView(self.api, query, self.config.ListSettings())
}

// logs in against the gateway, then drives the session transition that
// makes the coordinator initialize the stores
func (self *Client) Login(userAuth string, password string) (*AuthLoginResult, error) {
	result, err := self.api.AuthLoginSync(&AuthLoginArgs{
		UserAuth: userAuth,
		Password: password,
	})
	if err != nil {
		return nil, err
	}
	if result.Error != nil {
		return result, fmt.Errorf("login failed: %s", result.Error.Message)
	}

	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		self.sessionToken = result.SessionToken
	}()
	self.api.SetSessionToken(result.SessionToken)

	userId := result.UserId
	if (userId == Id{}) {
		// older gateways only return the token. fall back to its claims
		if sessionToken, err := ParseSessionTokenUnverified(result.SessionToken); err == nil {
			userId = sessionToken.UserId
		}
	}
	self.warmFromCache(userId)
	self.sessionMonitor.SetAuthenticated(userId)
	return result, nil
}

func (self *Client) Logout() {
	session := self.sessionMonitor.Session()
	if session.UserId != nil && self.cache != nil {
		self.cache.Invalidate(*session.UserId)
	}

	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		self.sessionToken = ""
	}()
	self.api.SetSessionToken("")
	self.crate.Reset()
	self.sessionMonitor.SetLoggedOut()
}

// TransportOwner implementation

func (self *Client) Connect(session Session) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.realtime != nil {
		self.realtime.Close()
	}
	self.realtime = NewRealtimeClientWithDefaults(self.ctx, self.config.RealtimeUrl, self.sessionToken)
}

func (self *Client) Disconnect() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.realtime != nil {
		self.realtime.Close()
		self.realtime = nil
	}
}

// Subscriber implementation: the stable view of the current realtime
// connection handed to stores and feeds
func (self *Client) Subscribe(channelKey string, onMessage func(message []byte), onClose func(err error)) (ChannelSubscription, error) {
	var realtime *RealtimeClient
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		realtime = self.realtime
	}()
	if realtime == nil {
		return nil, fmt.Errorf("realtime transport is not connected")
	}
	return realtime.Subscribe(channelKey, onMessage, onClose)
}

// best-effort pre-network render from the local snapshot cache
func (self *Client) warmFromCache(userId Id) {
	if self.cache == nil || (userId == Id{}) {
		return
	}

	var profile UserProfile
	if ok, err := self.cache.Get(userId, CacheKindProfile, &profile); err == nil && ok {
		self.userStore.setProfile(&profile)
	}
	var counts CrateCounts
	if ok, err := self.cache.Get(userId, CacheKindCounts, &counts); err == nil && ok {
		self.counterStore.setCounts(counts)
	}
}

// persists store snapshots as they change
func (self *Client) watchCache() {
	self.userStore.AddChangeCallback(func() {
		session := self.sessionMonitor.Session()
		if session.UserId == nil {
			return
		}
		if profile := self.userStore.Profile(); profile != nil {
			self.cache.Put(*session.UserId, CacheKindProfile, profile)
		}
	})
	self.counterStore.AddChangeCallback(func() {
		session := self.sessionMonitor.Session()
		if session.UserId == nil {
			return
		}
		self.cache.Put(*session.UserId, CacheKindCounts, self.counterStore.Counts())
	})
}

func (self *Client) Close() {
	self.coordinator.Stop()
	self.Disconnect()
	self.api.Close()
	if self.cache != nil {
		self.cache.Close()
	}
	self.cancel()
}
