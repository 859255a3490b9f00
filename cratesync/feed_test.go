package cratesync

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"
)

func writeJson(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "text/json")
	json.NewEncoder(w).Encode(value)
}

// a canned gateway. handlers are registered per exact path
func newTestGateway(t *testing.T) (*http.ServeMux, *CrateDigApi) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	api := NewCrateDigApi(server.URL)
	t.Cleanup(api.Close)
	return mux, api
}

func testPost(likesCount int, commentsCount int, isLiked bool) *Post {
	return &Post{
		PostId:        NewId(),
		UserId:        NewId(),
		UserName:      "dig.dug",
		Kind:          PostKindAdded,
		VinylId:       NewId(),
		VinylTitle:    "Blue Train",
		VinylArtist:   "John Coltrane",
		LikesCount:    likesCount,
		CommentsCount: commentsCount,
		IsLiked:       isLiked,
	}
}

func feedHandler(posts ...*Post) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, &FeedPageResult{
			Posts: posts,
		})
	}
}

func TestFeedToggleLikeConfirmed(t *testing.T) {
	mux, api := newTestGateway(t)
	post := testPost(3, 0, false)
	mux.HandleFunc("/feed", feedHandler(post))
	mux.HandleFunc(fmt.Sprintf("/post/%s/like", post.PostId), func(w http.ResponseWriter, r *http.Request) {
		var args LikePostArgs
		json.NewDecoder(r.Body).Decode(&args)
		assert.Equal(t, args.Liked, true)
		writeJson(w, &LikePostResult{
			LikesCount: 4,
		})
	})

	feed := NewFeedWithDefaults(api, nil)
	assert.Equal(t, feed.LoadInitial(), nil)
	assert.Equal(t, len(feed.List().Items()), 1)

	on, err := feed.ToggleLike(post.PostId)
	assert.Equal(t, err, nil)
	assert.Equal(t, on, true)

	updated := feed.List().Items()[0]
	assert.Equal(t, updated.IsLiked, true)
	// the authoritative count, not the optimistic delta
	assert.Equal(t, updated.LikesCount, 4)
}

func TestFeedToggleLikeRollback(t *testing.T) {
	mux, api := newTestGateway(t)
	post := testPost(3, 0, false)
	mux.HandleFunc("/feed", feedHandler(post))
	mux.HandleFunc(fmt.Sprintf("/post/%s/like", post.PostId), func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway exploded", http.StatusInternalServerError)
	})

	feed := NewFeedWithDefaults(api, nil)
	assert.Equal(t, feed.LoadInitial(), nil)

	on, err := feed.ToggleLike(post.PostId)
	assert.NotEqual(t, err, nil)
	var netErr *NetworkError
	assert.Equal(t, errors.As(err, &netErr), true)
	assert.Equal(t, on, false)

	// reverted to the pre-optimistic state
	updated := feed.List().Items()[0]
	assert.Equal(t, updated.IsLiked, false)
	assert.Equal(t, updated.LikesCount, 3)
}

func TestFeedToggleLikeConflictRefetches(t *testing.T) {
	mux, api := newTestGateway(t)
	post := testPost(3, 0, false)
	mux.HandleFunc("/feed", feedHandler(post))
	mux.HandleFunc(fmt.Sprintf("/post/%s/like", post.PostId), func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "already liked", http.StatusConflict)
	})
	mux.HandleFunc(fmt.Sprintf("/post/%s/like-count", post.PostId), func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, &LikeCountResult{
			LikesCount: 9,
		})
	})

	feed := NewFeedWithDefaults(api, nil)
	assert.Equal(t, feed.LoadInitial(), nil)

	_, err := feed.ToggleLike(post.PostId)
	var conflictErr *ConflictError
	assert.Equal(t, errors.As(err, &conflictErr), true)

	// the conflict forced an authoritative count re-fetch
	assert.Equal(t, feed.List().Items()[0].LikesCount, 9)
}

func TestFeedPushCounterRefetch(t *testing.T) {
	mux, api := newTestGateway(t)
	post := testPost(3, 0, false)
	mux.HandleFunc("/feed", feedHandler(post))
	mux.HandleFunc(fmt.Sprintf("/post/%s/like-count", post.PostId), func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, &LikeCountResult{
			LikesCount: 11,
		})
	})

	subscriber := newFakeSubscriber()
	feed := NewFeedWithDefaults(api, subscriber)
	assert.Equal(t, feed.LoadInitial(), nil)
	assert.Equal(t, feed.Subscribe("feed", nil), nil)
	defer feed.Unsubscribe()

	// the count in the push payload is a lie. the client must re-fetch
	subscriber.PushEvent("feed", map[string]any{
		"kind":    "counter-changed",
		"item_id": post.PostId.String(),
		"counter": "likes",
		"count":   999,
	})

	assert.Equal(t, feed.List().Items()[0].LikesCount, 11)
}

func TestFeedPushNewPost(t *testing.T) {
	mux, api := newTestGateway(t)
	post := testPost(3, 0, false)
	mux.HandleFunc("/feed", feedHandler(post))

	subscriber := newFakeSubscriber()
	feed := NewFeedWithDefaults(api, subscriber)
	assert.Equal(t, feed.LoadInitial(), nil)
	assert.Equal(t, feed.Subscribe("feed", nil), nil)
	defer feed.Unsubscribe()

	newer := testPost(0, 0, false)
	subscriber.PushEvent("feed", map[string]any{
		"kind":    "item-created",
		"item_id": newer.PostId.String(),
		"payload": newer,
	})

	// counted, not spliced into the visible window
	assert.Equal(t, feed.List().NewItemsAvailable(), 1)
	assert.Equal(t, len(feed.List().Items()), 1)
}

func TestCommentThreadAddConfirmed(t *testing.T) {
	mux, api := newTestGateway(t)
	post := testPost(0, 3, false)
	authoritative := &Comment{
		CommentId: NewId(),
		PostId:    post.PostId,
		UserId:    NewId(),
		UserName:  "dig.dug",
		Body:      "deep cut",
	}
	mux.HandleFunc("/feed", feedHandler(post))
	mux.HandleFunc(fmt.Sprintf("/post/%s/comments", post.PostId), func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "POST":
			writeJson(w, &AddCommentResult{
				Comment: authoritative,
			})
		default:
			writeJson(w, &CommentsPageResult{
				Comments: []*Comment{},
			})
		}
	})

	feed := NewFeedWithDefaults(api, nil)
	assert.Equal(t, feed.LoadInitial(), nil)

	thread := feed.OpenComments(post.PostId)
	assert.Equal(t, thread.LoadInitial(), nil)

	comment, err := thread.AddComment("deep cut", &UserProfile{
		UserId:   NewId(),
		UserName: "dig.dug",
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, comment.CommentId, authoritative.CommentId)

	// the temp entry was replaced by the authoritative comment
	comments := thread.List().Items()
	assert.Equal(t, len(comments), 1)
	assert.Equal(t, comments[0].CommentId, authoritative.CommentId)

	// the parent post's count carries the optimistic increment
	assert.Equal(t, feed.List().Items()[0].CommentsCount, 4)
}

func TestCommentThreadAddRollback(t *testing.T) {
	mux, api := newTestGateway(t)
	post := testPost(0, 3, false)
	mux.HandleFunc("/feed", feedHandler(post))
	mux.HandleFunc(fmt.Sprintf("/post/%s/comments", post.PostId), func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "POST":
			http.Error(w, "gateway exploded", http.StatusInternalServerError)
		default:
			writeJson(w, &CommentsPageResult{
				Comments: []*Comment{},
			})
		}
	})

	feed := NewFeedWithDefaults(api, nil)
	assert.Equal(t, feed.LoadInitial(), nil)

	thread := feed.OpenComments(post.PostId)
	assert.Equal(t, thread.LoadInitial(), nil)

	_, err := thread.AddComment("deep cut", nil)
	assert.NotEqual(t, err, nil)

	// temp comment removed, count restored
	assert.Equal(t, len(thread.List().Items()), 0)
	assert.Equal(t, feed.List().Items()[0].CommentsCount, 3)
}

func TestFeedSubscribeConcurrent(t *testing.T) {
	mux, api := newTestGateway(t)
	mux.HandleFunc("/feed", feedHandler())

	subscriber := newFakeSubscriber()
	feed := NewFeedWithDefaults(api, subscriber)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			feed.Subscribe("feed", nil)
		}()
		go func() {
			defer wg.Done()
			feed.Unsubscribe()
		}()
	}
	wg.Wait()

	feed.Unsubscribe()
	assert.Equal(t, feed.Subscribe("feed", nil), nil)
	channel := subscriber.LastChannel()
	assert.Equal(t, channel.channelKey, "feed")

	feed.Unsubscribe()
	assert.Equal(t, channel.Closed(), true)
}
