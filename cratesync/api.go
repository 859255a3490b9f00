package cratesync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R])
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// the request/response side of the remote data gateway.
// mutations are NOT safe to retry blindly; callers only retry via
// explicit user action
type CrateDigApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	sessionToken string
}

func NewCrateDigApi(apiUrl string) *CrateDigApi {
	return NewCrateDigApiWithContext(context.Background(), apiUrl)
}

func NewCrateDigApiWithContext(ctx context.Context, apiUrl string) *CrateDigApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &CrateDigApi{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: apiUrl,
	}
}

// this gets attached to api calls that need it
func (self *CrateDigApi) SetSessionToken(sessionToken string) {
	self.sessionToken = sessionToken
}

func (self *CrateDigApi) Close() {
	self.cancel()
}

type AuthLoginCallback apiCallback[*AuthLoginResult]

type AuthLoginArgs struct {
	UserAuth string `json:"user_auth"`
	Password string `json:"password"`
}

type AuthLoginResult struct {
	SessionToken string              `json:"session_token,omitempty"`
	UserId       Id                  `json:"user_id,omitempty"`
	UserName     string              `json:"user_name,omitempty"`
	Error        *AuthLoginResultError `json:"error,omitempty"`
}

type AuthLoginResultError struct {
	Message string `json:"message"`
}

func (self *CrateDigApi) AuthLogin(authLogin *AuthLoginArgs, callback AuthLoginCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/auth/login", self.apiUrl),
		authLogin,
		self.sessionToken,
		&AuthLoginResult{},
		callback,
	)
}

func (self *CrateDigApi) AuthLoginSync(authLogin *AuthLoginArgs) (*AuthLoginResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/auth/login", self.apiUrl),
		authLogin,
		self.sessionToken,
		&AuthLoginResult{},
		NewNoopApiCallback[*AuthLoginResult](),
	)
}

type FeedPageCallback apiCallback[*FeedPageResult]

type FeedPageResult struct {
	Posts      []*Post `json:"posts"`
	NextCursor Cursor  `json:"next_cursor,omitempty"`
}

func (self *CrateDigApi) FeedPage(cursor Cursor, pageSize int, callback FeedPageCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/feed?cursor=%s&page_size=%d", self.apiUrl, url.QueryEscape(string(cursor)), pageSize),
		self.sessionToken,
		&FeedPageResult{},
		callback,
	)
}

func (self *CrateDigApi) FeedPageSync(cursor Cursor, pageSize int) (*FeedPageResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/feed?cursor=%s&page_size=%d", self.apiUrl, url.QueryEscape(string(cursor)), pageSize),
		self.sessionToken,
		&FeedPageResult{},
		NewNoopApiCallback[*FeedPageResult](),
	)
}

type NotificationsPageResult struct {
	Notifications []*Notification `json:"notifications"`
	NextCursor    Cursor          `json:"next_cursor,omitempty"`
}

func (self *CrateDigApi) NotificationsPageSync(cursor Cursor, pageSize int) (*NotificationsPageResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/notifications?cursor=%s&page_size=%d", self.apiUrl, url.QueryEscape(string(cursor)), pageSize),
		self.sessionToken,
		&NotificationsPageResult{},
		NewNoopApiCallback[*NotificationsPageResult](),
	)
}

type CratePageResult struct {
	Vinyls     []*Vinyl `json:"vinyls"`
	NextCursor Cursor   `json:"next_cursor,omitempty"`
}

func (self *CrateDigApi) CratePageSync(shelf Shelf, cursor Cursor, pageSize int) (*CratePageResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/crate/%s?cursor=%s&page_size=%d", self.apiUrl, shelf, url.QueryEscape(string(cursor)), pageSize),
		self.sessionToken,
		&CratePageResult{},
		NewNoopApiCallback[*CratePageResult](),
	)
}

type SearchVinylsResult struct {
	Vinyls     []*Vinyl `json:"vinyls"`
	NextCursor Cursor   `json:"next_cursor,omitempty"`
}

func (self *CrateDigApi) SearchVinylsSync(query string, cursor Cursor, pageSize int) (*SearchVinylsResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/search?q=%s&cursor=%s&page_size=%d", self.apiUrl, url.QueryEscape(query), url.QueryEscape(string(cursor)), pageSize),
		self.sessionToken,
		&SearchVinylsResult{},
		NewNoopApiCallback[*SearchVinylsResult](),
	)
}

type CommentsPageResult struct {
	Comments   []*Comment `json:"comments"`
	NextCursor Cursor     `json:"next_cursor,omitempty"`
}

func (self *CrateDigApi) CommentsPageSync(postId Id, cursor Cursor, pageSize int) (*CommentsPageResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/post/%s/comments?cursor=%s&page_size=%d", self.apiUrl, postId, url.QueryEscape(string(cursor)), pageSize),
		self.sessionToken,
		&CommentsPageResult{},
		NewNoopApiCallback[*CommentsPageResult](),
	)
}

type LikePostArgs struct {
	PostId Id   `json:"post_id"`
	Liked  bool `json:"liked"`
}

type LikePostResult struct {
	LikesCount int `json:"likes_count"`
}

func (self *CrateDigApi) LikePostSync(likePost *LikePostArgs) (*LikePostResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/post/%s/like", self.apiUrl, likePost.PostId),
		likePost,
		self.sessionToken,
		&LikePostResult{},
		NewNoopApiCallback[*LikePostResult](),
	)
}

type AddCommentArgs struct {
	PostId Id     `json:"post_id"`
	Body   string `json:"body"`
}

type AddCommentResult struct {
	Comment *Comment `json:"comment"`
}

func (self *CrateDigApi) AddCommentSync(addComment *AddCommentArgs) (*AddCommentResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/post/%s/comments", self.apiUrl, addComment.PostId),
		addComment,
		self.sessionToken,
		&AddCommentResult{},
		NewNoopApiCallback[*AddCommentResult](),
	)
}

type FollowUserArgs struct {
	UserId    Id   `json:"user_id"`
	Following bool `json:"following"`
}

type FollowUserResult struct {
	FollowersCount int `json:"followers_count"`
}

func (self *CrateDigApi) FollowUserSync(followUser *FollowUserArgs) (*FollowUserResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/user/%s/follow", self.apiUrl, followUser.UserId),
		followUser,
		self.sessionToken,
		&FollowUserResult{},
		NewNoopApiCallback[*FollowUserResult](),
	)
}

type AddVinylArgs struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
	Year   int    `json:"year,omitempty"`
	Shelf  Shelf  `json:"shelf"`
}

type AddVinylResult struct {
	Vinyl *Vinyl `json:"vinyl"`
}

func (self *CrateDigApi) AddVinylSync(addVinyl *AddVinylArgs) (*AddVinylResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/crate", self.apiUrl),
		addVinyl,
		self.sessionToken,
		&AddVinylResult{},
		NewNoopApiCallback[*AddVinylResult](),
	)
}

type RemoveVinylArgs struct {
	VinylId Id `json:"vinyl_id"`
}

type RemoveVinylResult struct{}

func (self *CrateDigApi) RemoveVinylSync(removeVinyl *RemoveVinylArgs) (*RemoveVinylResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/crate/%s/remove", self.apiUrl, removeVinyl.VinylId),
		removeVinyl,
		self.sessionToken,
		&RemoveVinylResult{},
		NewNoopApiCallback[*RemoveVinylResult](),
	)
}

type MoveVinylArgs struct {
	VinylId Id    `json:"vinyl_id"`
	Shelf   Shelf `json:"shelf"`
}

type MoveVinylResult struct {
	Vinyl *Vinyl `json:"vinyl"`
}

// moves a vinyl between collection and wishlist.
// the gateway is not assumed to be atomic for the remove+add pair, which
// is why callers roll back both sides on failure
func (self *CrateDigApi) MoveVinylSync(moveVinyl *MoveVinylArgs) (*MoveVinylResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/crate/%s/move", self.apiUrl, moveVinyl.VinylId),
		moveVinyl,
		self.sessionToken,
		&MoveVinylResult{},
		NewNoopApiCallback[*MoveVinylResult](),
	)
}

type LikeCountResult struct {
	LikesCount int `json:"likes_count"`
}

func (self *CrateDigApi) LikeCountSync(postId Id) (*LikeCountResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/post/%s/like-count", self.apiUrl, postId),
		self.sessionToken,
		&LikeCountResult{},
		NewNoopApiCallback[*LikeCountResult](),
	)
}

type CommentCountResult struct {
	CommentsCount int `json:"comments_count"`
}

func (self *CrateDigApi) CommentCountSync(postId Id) (*CommentCountResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/post/%s/comment-count", self.apiUrl, postId),
		self.sessionToken,
		&CommentCountResult{},
		NewNoopApiCallback[*CommentCountResult](),
	)
}

type UnreadCountResult struct {
	UnreadCount int `json:"unread_count"`
}

func (self *CrateDigApi) UnreadCountSync() (*UnreadCountResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/notifications/unread-count", self.apiUrl),
		self.sessionToken,
		&UnreadCountResult{},
		NewNoopApiCallback[*UnreadCountResult](),
	)
}

type MarkNotificationsReadArgs struct {
	NotificationIds []Id `json:"notification_ids"`
}

type MarkNotificationsReadResult struct {
	UnreadCount int `json:"unread_count"`
}

func (self *CrateDigApi) MarkNotificationsReadSync(markRead *MarkNotificationsReadArgs) (*MarkNotificationsReadResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/notifications/mark-read", self.apiUrl),
		markRead,
		self.sessionToken,
		&MarkNotificationsReadResult{},
		NewNoopApiCallback[*MarkNotificationsReadResult](),
	)
}

type ProfileResult struct {
	Profile *UserProfile `json:"profile"`
}

func (self *CrateDigApi) ProfileSync(userId Id) (*ProfileResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/user/%s", self.apiUrl, userId),
		self.sessionToken,
		&ProfileResult{},
		NewNoopApiCallback[*ProfileResult](),
	)
}

type CrateCountsResult struct {
	Counts *CrateCounts `json:"counts"`
}

func (self *CrateDigApi) CrateCountsSync() (*CrateCountsResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/crate/counts", self.apiUrl),
		self.sessionToken,
		&CrateCountsResult{},
		NewNoopApiCallback[*CrateCountsResult](),
	)
}

// maps a gateway response status into the error taxonomy
func statusError(op string, statusCode int, message string) error {
	switch statusCode {
	case http.StatusNotFound:
		return &NotFoundError{
			Op: op,
		}
	case http.StatusConflict:
		return &ConflictError{
			Op:      op,
			Message: message,
		}
	default:
		if 500 <= statusCode {
			return &NetworkError{
				Op:    op,
				Cause: errors.New(message),
			}
		}
		return errors.New(message)
	}
}

func post[R any](ctx context.Context, url string, args any, sessionToken string, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "text/json")

	if sessionToken != "" {
		auth := fmt.Sprintf("Bearer %s", sessionToken)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		netErr := &NetworkError{
			Op:    url,
			Cause: err,
		}
		var empty R
		callback.Result(empty, netErr)
		return empty, netErr
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = statusError(url, r.StatusCode, errorMessage)
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}

func get[R any](ctx context.Context, url string, sessionToken string, result R, callback apiCallback[R]) (R, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "text/json")

	if sessionToken != "" {
		auth := fmt.Sprintf("Bearer %s", sessionToken)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		netErr := &NetworkError{
			Op:    url,
			Cause: err,
		}
		var empty R
		callback.Result(empty, netErr)
		return empty, netErr
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = statusError(url, r.StatusCode, errorMessage)
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}
