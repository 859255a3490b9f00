package cratesync

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestApiErrorTaxonomy(t *testing.T) {
	mux, api := newTestGateway(t)
	notFoundId := NewId()
	conflictId := NewId()
	brokenId := NewId()
	mux.HandleFunc(fmt.Sprintf("/post/%s/like-count", notFoundId), func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such post", http.StatusNotFound)
	})
	mux.HandleFunc(fmt.Sprintf("/post/%s/like", conflictId), func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "already liked", http.StatusConflict)
	})
	mux.HandleFunc(fmt.Sprintf("/post/%s/like-count", brokenId), func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway exploded", http.StatusInternalServerError)
	})

	_, err := api.LikeCountSync(notFoundId)
	var notFoundErr *NotFoundError
	assert.Equal(t, errors.As(err, &notFoundErr), true)

	_, err = api.LikePostSync(&LikePostArgs{PostId: conflictId, Liked: true})
	var conflictErr *ConflictError
	assert.Equal(t, errors.As(err, &conflictErr), true)
	assert.Equal(t, conflictErr.Message, "already liked")

	_, err = api.LikeCountSync(brokenId)
	var netErr *NetworkError
	assert.Equal(t, errors.As(err, &netErr), true)
}

func TestApiTransportErrorIsNetworkError(t *testing.T) {
	// nothing is listening here
	api := NewCrateDigApi("http://127.0.0.1:1")
	defer api.Close()

	_, err := api.UnreadCountSync()
	var netErr *NetworkError
	assert.Equal(t, errors.As(err, &netErr), true)
}

func TestApiSessionTokenHeader(t *testing.T) {
	mux, api := newTestGateway(t)

	var auth string
	mux.HandleFunc("/notifications/unread-count", func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		writeJson(w, &UnreadCountResult{UnreadCount: 0})
	})

	api.SetSessionToken("session token")
	_, err := api.UnreadCountSync()
	assert.Equal(t, err, nil)
	assert.Equal(t, auth, "Bearer session token")
}

func TestApiBlockingCallback(t *testing.T) {
	mux, api := newTestGateway(t)
	userId := NewId()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, &AuthLoginResult{
			SessionToken: "session token",
			UserId:       userId,
			UserName:     "dig.dug",
		})
	})

	callback, resultChannel := NewBlockingApiCallback[*AuthLoginResult]()
	api.AuthLogin(&AuthLoginArgs{
		UserAuth: "dig.dug",
		Password: "hunter2",
	}, callback)

	result := <-resultChannel
	assert.Equal(t, result.Error, nil)
	assert.Equal(t, result.Result.UserId, userId)
	assert.Equal(t, result.Result.SessionToken, "session token")
}
