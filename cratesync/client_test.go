package cratesync

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-playground/assert/v2"
)

func newTestClient(t *testing.T, userId Id) (*http.ServeMux, *testRealtimeGateway, *Client) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	gateway := newTestRealtimeGateway(t, "session token")

	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, &AuthLoginResult{
			SessionToken: "session token",
			UserId:       userId,
			UserName:     "dig.dug",
		})
	})
	mux.HandleFunc(fmt.Sprintf("/user/%s", userId), func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, &ProfileResult{
			Profile: &UserProfile{
				UserId:   userId,
				UserName: "dig.dug",
				Bio:      "strictly 45s",
			},
		})
	})
	mux.HandleFunc("/notifications", func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, &NotificationsPageResult{
			Notifications: []*Notification{},
		})
	})
	mux.HandleFunc("/notifications/unread-count", func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, &UnreadCountResult{UnreadCount: 2})
	})
	mux.HandleFunc("/crate/counts", func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, &CrateCountsResult{
			Counts: &CrateCounts{
				CollectionCount: 12,
				WishlistCount:   3,
			},
		})
	})

	config := &ClientConfig{
		ApiUrl:      server.URL,
		RealtimeUrl: gateway.Url(),
		PageSize:    15,
		CachePath:   filepath.Join(t.TempDir(), "cratesync.db"),
	}
	client := NewClient(context.Background(), config)
	t.Cleanup(client.Close)
	return mux, gateway, client
}

func waitForStoreState(t *testing.T, client *Client, name string, state StoreState) {
	waitFor(t, fmt.Sprintf("store %s to reach %s", name, state), func() bool {
		return client.Coordinator().StoreState(name) == state
	})
}

func TestClientLoginLifecycle(t *testing.T) {
	userId := NewId()
	_, gateway, client := newTestClient(t, userId)

	result, err := client.Login("dig.dug", "correct horse")
	assert.Equal(t, err, nil)
	assert.Equal(t, result.UserId, userId)

	waitForStoreState(t, client, "user", StoreStateReady)
	waitForStoreState(t, client, "notifications", StoreStateReady)
	waitForStoreState(t, client, "counters", StoreStateReady)

	profile := client.UserStore().Profile()
	assert.NotEqual(t, profile, nil)
	assert.Equal(t, profile.UserName, "dig.dug")
	assert.Equal(t, client.NotificationStore().UnreadCount(), 2)
	assert.Equal(t, client.CounterStore().Counts(), CrateCounts{
		CollectionCount: 12,
		WishlistCount:   3,
	})

	waitFor(t, "realtime channels to be subscribed", func() bool {
		return gateway.Subscribed(fmt.Sprintf("user/%s/notifications", userId)) &&
			gateway.Subscribed(fmt.Sprintf("user/%s/counters", userId))
	})

	// the change watcher persists snapshots for the next login
	waitFor(t, "profile snapshot to be cached", func() bool {
		var cached UserProfile
		ok, err := client.cache.Get(userId, CacheKindProfile, &cached)
		return err == nil && ok && cached.UserName == "dig.dug"
	})

	client.Logout()

	waitForStoreState(t, client, "user", StoreStateUninitialized)
	waitForStoreState(t, client, "notifications", StoreStateUninitialized)
	waitForStoreState(t, client, "counters", StoreStateUninitialized)

	waitFor(t, "profile to be cleared", func() bool {
		return client.UserStore().Profile() == nil
	})

	// logout invalidated the snapshot cache for the user
	var cached UserProfile
	ok, err := client.cache.Get(userId, CacheKindProfile, &cached)
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, false)

	_, err = client.Subscribe("feed", func(message []byte) {}, func(err error) {})
	assert.NotEqual(t, err, nil)
}

func TestClientLoginRejected(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, &AuthLoginResult{
			Error: &AuthLoginResultError{
				Message: "bad password",
			},
		})
	})

	client := NewClient(context.Background(), &ClientConfig{
		ApiUrl:   server.URL,
		PageSize: 15,
	})
	defer client.Close()

	result, err := client.Login("dig.dug", "wrong horse")
	assert.NotEqual(t, err, nil)
	assert.NotEqual(t, result.Error, nil)
	assert.Equal(t, result.Error.Message, "bad password")

	// a rejected login never drives a session transition
	assert.Equal(t, client.Coordinator().StoreState("user"), StoreStateUninitialized)
	assert.Equal(t, client.SessionMonitor().Session().Authenticated(), false)
}

func TestClientWarmFromCache(t *testing.T) {
	userId := NewId()

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, &AuthLoginResult{
			SessionToken: "session token",
			UserId:       userId,
			UserName:     "dig.dug",
		})
	})
	// hold the authoritative profile fetch so the warm render is observable
	profileGate := make(chan struct{})
	mux.HandleFunc(fmt.Sprintf("/user/%s", userId), func(w http.ResponseWriter, r *http.Request) {
		<-profileGate
		writeJson(w, &ProfileResult{
			Profile: &UserProfile{
				UserId:   userId,
				UserName: "dig.dug",
				Bio:      "strictly 45s",
			},
		})
	})

	client := NewClient(context.Background(), &ClientConfig{
		ApiUrl:    server.URL,
		PageSize:  15,
		CachePath: filepath.Join(t.TempDir(), "cratesync.db"),
	})
	defer client.Close()

	cachedProfile := &UserProfile{
		UserId:   userId,
		UserName: "dig.dug",
		Bio:      "cached bio",
	}
	assert.Equal(t, client.cache.Put(userId, CacheKindProfile, cachedProfile), nil)
	assert.Equal(t, client.cache.Put(userId, CacheKindCounts, CrateCounts{
		CollectionCount: 7,
		WishlistCount:   1,
	}), nil)

	_, err := client.Login("dig.dug", "correct horse")
	assert.Equal(t, err, nil)

	// the cached snapshots render immediately, before the stores initialize
	profile := client.UserStore().Profile()
	assert.NotEqual(t, profile, nil)
	assert.Equal(t, profile.Bio, "cached bio")
	assert.Equal(t, client.CounterStore().Counts(), CrateCounts{
		CollectionCount: 7,
		WishlistCount:   1,
	})

	// the authoritative fetch then replaces the warm snapshot
	close(profileGate)
	waitFor(t, "authoritative profile to replace the cached one", func() bool {
		profile := client.UserStore().Profile()
		return profile != nil && profile.Bio == "strictly 45s"
	})
}
