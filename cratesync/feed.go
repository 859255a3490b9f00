package cratesync

import (
	"fmt"
	"sync"

	"github.com/golang/glog"
)

// the activity feed: a paginated list of posts plus the push channel
// that folds externally-created posts and counter changes into it.
// owned by the view that created it, not by the lifecycle coordinator
type Feed struct {
	api        *CrateDigApi
	subscriber Subscriber
	executor   *MutationExecutor

	list *PaginatedList[*Post]

	stateLock sync.Mutex
	bridge    *Bridge
}

func NewFeedWithDefaults(api *CrateDigApi, subscriber Subscriber) *Feed {
	return NewFeed(api, subscriber, DefaultPaginatedListSettings())
}

func NewFeed(api *CrateDigApi, subscriber Subscriber, listSettings *PaginatedListSettings) *Feed {
	return &Feed{
		api:        api,
		subscriber: subscriber,
		executor:   NewMutationExecutor(),
		list:       NewPaginatedList[*Post](listSettings),
	}
}

func (self *Feed) List() *PaginatedList[*Post] {
	return self.list
}

func (self *Feed) fetchPage(cursor Cursor, pageSize int) ([]*Post, error) {
	result, err := self.api.FeedPageSync(cursor, pageSize)
	if err != nil {
		return nil, err
	}
	return result.Posts, nil
}

func (self *Feed) LoadInitial() error {
	return self.list.LoadInitial(self.fetchPage)
}

func (self *Feed) LoadMore() error {
	return self.list.LoadMore(self.fetchPage)
}

func (self *Feed) Refresh() error {
	return self.list.Refresh(self.fetchPage)
}

// opens the push channel for this feed. idempotent per channel key
func (self *Feed) Subscribe(channelKey string, onError ErrorFunction) error {
	self.stateLock.Lock()
	if self.bridge == nil {
		self.bridge = NewBridge(self.subscriber)
	}
	bridge := self.bridge
	self.stateLock.Unlock()

	return bridge.Subscribe(
		channelKey,
		ListEventHandler(self.list, self.refetchCounter, onError),
		onError,
	)
}

func (self *Feed) Unsubscribe() {
	self.stateLock.Lock()
	bridge := self.bridge
	self.stateLock.Unlock()

	if bridge != nil {
		bridge.Close()
	}
}

// the push payload count is not trusted. fetch the authoritative count
func (self *Feed) refetchCounter(postId Id, counter CounterKind) {
	switch counter {
	case CounterKindLikes:
		result, err := self.api.LikeCountSync(postId)
		if err != nil {
			glog.V(2).Infof("[feed]like count refetch %s = %s\n", postId, err)
			return
		}
		self.list.UpdateItem(postId, func(post *Post) *Post {
			updated := *post
			updated.LikesCount = result.LikesCount
			return &updated
		})
	case CounterKindComments:
		result, err := self.api.CommentCountSync(postId)
		if err != nil {
			glog.V(2).Infof("[feed]comment count refetch %s = %s\n", postId, err)
			return
		}
		self.list.UpdateItem(postId, func(post *Post) *Post {
			updated := *post
			updated.CommentsCount = result.CommentsCount
			return &updated
		})
	}
}

func (self *Feed) setLiked(postId Id, on bool) {
	self.list.UpdateItem(postId, func(post *Post) *Post {
		if post.IsLiked == on {
			return post
		}
		updated := *post
		updated.IsLiked = on
		if on {
			updated.LikesCount += 1
		} else {
			updated.LikesCount -= 1
		}
		return &updated
	})
}

// one press of the like toggle. the optimistic state lands instantly;
// rapid presses coalesce against the last requested state.
// a failed commit reverts the post to its pre-optimistic state
func (self *Feed) ToggleLike(postId Id) (bool, error) {
	var initial bool
	for _, post := range self.list.Items() {
		if post.PostId == postId {
			initial = post.IsLiked
			break
		}
	}

	return self.executor.Toggle(
		fmt.Sprintf("like/%s", postId),
		initial,
		func(on bool) {
			self.setLiked(postId, on)
		},
		func(on bool) error {
			result, err := self.api.LikePostSync(&LikePostArgs{
				PostId: postId,
				Liked:  on,
			})
			if err != nil {
				return err
			}
			// authoritative count, replaces the optimistic delta
			self.list.UpdateItem(postId, func(post *Post) *Post {
				updated := *post
				updated.LikesCount = result.LikesCount
				return &updated
			})
			return nil
		},
		func() {
			self.refetchCounter(postId, CounterKindLikes)
		},
	)
}

func (self *Feed) OpenComments(postId Id) *CommentThread {
	return &CommentThread{
		api:      self.api,
		feed:     self,
		executor: self.executor,
		postId:   postId,
		list:     NewPaginatedList[*Comment](DefaultPaginatedListSettings()),
	}
}

// the comment list of one post, with optimistic adds.
// a dispatched comment appears immediately under a temp id and is
// replaced by the authoritative comment on settlement
type CommentThread struct {
	api      *CrateDigApi
	feed     *Feed
	executor *MutationExecutor
	postId   Id

	list *PaginatedList[*Comment]

	stateLock sync.Mutex
	bridge    *Bridge
}

func (self *CommentThread) List() *PaginatedList[*Comment] {
	return self.list
}

func (self *CommentThread) fetchPage(cursor Cursor, pageSize int) ([]*Comment, error) {
	result, err := self.api.CommentsPageSync(self.postId, cursor, pageSize)
	if err != nil {
		return nil, err
	}
	return result.Comments, nil
}

func (self *CommentThread) LoadInitial() error {
	return self.list.LoadInitial(self.fetchPage)
}

func (self *CommentThread) LoadMore() error {
	return self.list.LoadMore(self.fetchPage)
}

func (self *CommentThread) Subscribe(onError ErrorFunction) error {
	self.stateLock.Lock()
	if self.bridge == nil {
		self.bridge = NewBridge(self.feed.subscriber)
	}
	bridge := self.bridge
	self.stateLock.Unlock()

	return bridge.Subscribe(
		fmt.Sprintf("post/%s/comments", self.postId),
		ListEventHandler(self.list, nil, onError),
		onError,
	)
}

func (self *CommentThread) Close() {
	self.stateLock.Lock()
	bridge := self.bridge
	self.stateLock.Unlock()

	if bridge != nil {
		bridge.Close()
	}
}

func (self *CommentThread) adjustCommentCount(delta int) {
	self.feed.list.UpdateItem(self.postId, func(post *Post) *Post {
		updated := *post
		updated.CommentsCount += delta
		return &updated
	})
}

// adds a comment optimistically. `author` fills in the temp entry shown
// until the authoritative comment replaces it
func (self *CommentThread) AddComment(body string, author *UserProfile) (*Comment, error) {
	tempId := NewId()
	temp := &Comment{
		CommentId: tempId,
		PostId:    self.postId,
		Body:      body,
	}
	if author != nil {
		temp.UserId = author.UserId
		temp.UserName = author.UserName
	}

	result, err := DispatchMutation(self.executor, &Mutation[*AddCommentResult]{
		Target: fmt.Sprintf("comment/%s", self.postId),
		Apply: func() UndoFunction {
			self.list.AppendLocalItem(temp)
			self.adjustCommentCount(1)
			return func() {
				self.list.RemoveItem(tempId)
				self.adjustCommentCount(-1)
			}
		},
		Commit: func() (*AddCommentResult, error) {
			return self.api.AddCommentSync(&AddCommentArgs{
				PostId: self.postId,
				Body:   body,
			})
		},
		Confirm: func(result *AddCommentResult) {
			if result.Comment != nil {
				self.list.ReplaceLocalItem(tempId, result.Comment)
			}
		},
		RefreshOnConflict: func() {
			self.feed.refetchCounter(self.postId, CounterKindComments)
		},
	})
	if err != nil {
		return nil, err
	}
	return result.Comment, nil
}
