package cratesync

import (
	"time"
)

// domain models exchanged with the gateway.
// field names mirror the gateway json contract.

// an item that can live in a `PaginatedList`
type PageItem interface {
	ItemId() Id
	// the server-side ordering key of the item.
	// for feed-type resources this is the item's ulid, which orders by create time.
	SortKey() Cursor
}

type PostKind = string

const (
	PostKindAdded     PostKind = "added"
	PostKindLiked     PostKind = "liked"
	PostKindCommented PostKind = "commented"
)

// one activity feed entry
type Post struct {
	PostId        Id       `json:"post_id"`
	UserId        Id       `json:"user_id"`
	UserName      string   `json:"user_name"`
	Kind          PostKind `json:"kind"`
	VinylId       Id       `json:"vinyl_id"`
	VinylTitle    string   `json:"vinyl_title"`
	VinylArtist   string   `json:"vinyl_artist"`
	LikesCount    int      `json:"likes_count"`
	CommentsCount int      `json:"comments_count"`
	IsLiked       bool     `json:"is_liked"`
	CreatedAt     time.Time `json:"created_at"`
}

func (self *Post) ItemId() Id {
	return self.PostId
}

func (self *Post) SortKey() Cursor {
	return Cursor(self.PostId.String())
}

type Shelf = string

const (
	ShelfCollection Shelf = "collection"
	ShelfWishlist   Shelf = "wishlist"
)

type Vinyl struct {
	VinylId Id     `json:"vinyl_id"`
	Title   string `json:"title"`
	Artist  string `json:"artist"`
	Year    int    `json:"year,omitempty"`
	Shelf   Shelf  `json:"shelf"`
	AddedAt time.Time `json:"added_at"`
}

func (self *Vinyl) ItemId() Id {
	return self.VinylId
}

func (self *Vinyl) SortKey() Cursor {
	return Cursor(self.VinylId.String())
}

type Comment struct {
	CommentId Id     `json:"comment_id"`
	PostId    Id     `json:"post_id"`
	UserId    Id     `json:"user_id"`
	UserName  string `json:"user_name"`
	Body      string `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

func (self *Comment) ItemId() Id {
	return self.CommentId
}

func (self *Comment) SortKey() Cursor {
	return Cursor(self.CommentId.String())
}

type NotificationKind = string

const (
	NotificationKindLike    NotificationKind = "like"
	NotificationKindComment NotificationKind = "comment"
	NotificationKindFollow  NotificationKind = "follow"
)

type Notification struct {
	NotificationId Id               `json:"notification_id"`
	Kind           NotificationKind `json:"kind"`
	ActorId        Id               `json:"actor_id"`
	ActorName      string           `json:"actor_name"`
	PostId         *Id              `json:"post_id,omitempty"`
	Read           bool             `json:"read"`
	CreatedAt      time.Time        `json:"created_at"`
}

func (self *Notification) ItemId() Id {
	return self.NotificationId
}

func (self *Notification) SortKey() Cursor {
	return Cursor(self.NotificationId.String())
}

type UserProfile struct {
	UserId         Id     `json:"user_id"`
	UserName       string `json:"user_name"`
	Bio            string `json:"bio,omitempty"`
	FollowersCount int    `json:"followers_count"`
	FollowingCount int    `json:"following_count"`
	IsFollowing    bool   `json:"is_following"`
}

type CrateCounts struct {
	CollectionCount int `json:"collection_count"`
	WishlistCount   int `json:"wishlist_count"`
}
