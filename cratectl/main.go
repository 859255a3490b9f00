package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/docopt/docopt-go"

	"github.com/cratedig/cratesync/cratesync"
)

const LocalVersion = "0.0.0-local"

func main() {
	defaultConfig := cratesync.DefaultClientConfig()

	usage := fmt.Sprintf(
		`CrateDig sync client.

The default urls are:
    api_url: %s
    realtime_url: %s

Usage:
    cratectl feed [--tail] --user_auth=<user_auth> [--password=<password>]
        [--config=<config>]
    cratectl like <post_id> --user_auth=<user_auth> [--password=<password>]
        [--config=<config>]
    cratectl comment <post_id> <body> --user_auth=<user_auth> [--password=<password>]
        [--config=<config>]
    cratectl crate list [--shelf=<shelf>] --user_auth=<user_auth> [--password=<password>]
        [--config=<config>]
    cratectl crate add <title> <artist> [--shelf=<shelf>] --user_auth=<user_auth> [--password=<password>]
        [--config=<config>]
    cratectl crate move <vinyl_id> <shelf> --user_auth=<user_auth> [--password=<password>]
        [--config=<config>]
    cratectl search <query> --user_auth=<user_auth> [--password=<password>]
        [--config=<config>]
    cratectl follow <user_id> --user_auth=<user_auth> [--password=<password>]
        [--config=<config>]
    cratectl notifications [--mark_read] --user_auth=<user_auth> [--password=<password>]
        [--config=<config>]

Options:
    -h --help                Show this screen.
    --version                Show version.
    --config=<config>        Config yaml path.
    --user_auth=<user_auth>
    --password=<password>
    --shelf=<shelf>          Shelf name [default: collection].
    --tail                   Keep the feed open and print pushed events.
    --mark_read              Mark the listed notifications read.`,
		defaultConfig.ApiUrl,
		defaultConfig.RealtimeUrl,
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], RequireVersion())
	if err != nil {
		panic(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer cancel()

	client := newClient(ctx, opts)
	defer client.Close()

	if feed_, _ := opts.Bool("feed"); feed_ {
		feed(ctx, client, opts)
	} else if like_, _ := opts.Bool("like"); like_ {
		like(client, opts)
	} else if comment_, _ := opts.Bool("comment"); comment_ {
		comment(client, opts)
	} else if crate_, _ := opts.Bool("crate"); crate_ {
		if list_, _ := opts.Bool("list"); list_ {
			crateList(client, opts)
		} else if add_, _ := opts.Bool("add"); add_ {
			crateAdd(client, opts)
		} else if move_, _ := opts.Bool("move"); move_ {
			crateMove(client, opts)
		}
	} else if search_, _ := opts.Bool("search"); search_ {
		search(client, opts)
	} else if follow_, _ := opts.Bool("follow"); follow_ {
		follow(client, opts)
	} else if notifications_, _ := opts.Bool("notifications"); notifications_ {
		notifications(client, opts)
	}
}

func newClient(ctx context.Context, opts docopt.Opts) *cratesync.Client {
	config := cratesync.DefaultClientConfig()
	if configPathAny := opts["--config"]; configPathAny != nil {
		var err error
		config, err = cratesync.LoadClientConfig(configPathAny.(string))
		if err != nil {
			panic(err)
		}
	}

	client := cratesync.NewClient(ctx, config)

	userAuth := opts["--user_auth"].(string)

	var password string
	if passwordAny := opts["--password"]; passwordAny != nil {
		password = passwordAny.(string)
	} else {
		fmt.Print("Enter password: ")
		passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			panic(err)
		}
		password = string(passwordBytes)
		fmt.Printf("\n")
	}

	result, err := client.Login(userAuth, password)
	if err != nil {
		panic(err)
	}
	if result.Error != nil {
		panic(fmt.Errorf("%s", result.Error.Message))
	}

	fmt.Printf("user_id: %s\n", result.UserId)

	return client
}

func feed(ctx context.Context, client *cratesync.Client, opts docopt.Opts) {
	feed := client.NewFeed()

	if err := feed.LoadInitial(); err != nil {
		panic(err)
	}
	printPosts(feed.List().Items())

	if tail_, _ := opts.Bool("--tail"); tail_ {
		unsub := feed.List().AddChangeCallback(func() {
			if n := feed.List().NewItemsAvailable(); 0 < n {
				fmt.Printf("-- %d new post(s), refresh to see them --\n", n)
			}
		})
		defer unsub()

		err := feed.Subscribe("feed", func(err error) {
			fmt.Printf("feed channel closed: %s\n", err)
		})
		if err != nil {
			panic(err)
		}
		defer feed.Unsubscribe()

		select {
		case <-ctx.Done():
		}
	}
}

func like(client *cratesync.Client, opts docopt.Opts) {
	postId, err := cratesync.ParseId(opts["<post_id>"].(string))
	if err != nil {
		panic(err)
	}

	feed := client.NewFeed()
	if err := feed.LoadInitial(); err != nil {
		panic(err)
	}

	liked, err := feed.ToggleLike(postId)
	if err != nil {
		panic(err)
	}
	fmt.Printf("liked: %t\n", liked)
}

func comment(client *cratesync.Client, opts docopt.Opts) {
	postId, err := cratesync.ParseId(opts["<post_id>"].(string))
	if err != nil {
		panic(err)
	}
	body := opts["<body>"].(string)

	feed := client.NewFeed()
	if err := feed.LoadInitial(); err != nil {
		panic(err)
	}

	thread := feed.OpenComments(postId)
	defer thread.Close()

	author := client.UserStore().Profile()
	comment, err := thread.AddComment(body, author)
	if err != nil {
		panic(err)
	}
	fmt.Printf("comment_id: %s\n", comment.CommentId)
}

func parseShelf(opts docopt.Opts) cratesync.Shelf {
	var name string
	if shelfAny := opts["--shelf"]; shelfAny != nil {
		name = shelfAny.(string)
	} else if shelfAny := opts["<shelf>"]; shelfAny != nil {
		name = shelfAny.(string)
	}
	switch strings.ToLower(name) {
	case "wishlist":
		return cratesync.ShelfWishlist
	default:
		return cratesync.ShelfCollection
	}
}

func crateList(client *cratesync.Client, opts docopt.Opts) {
	shelf := parseShelf(opts)

	crate := client.Crate()
	if err := crate.LoadInitial(shelf); err != nil {
		panic(err)
	}
	for _, vinyl := range crate.List(shelf).Items() {
		fmt.Printf("%s  %s - %s\n", vinyl.VinylId, vinyl.Artist, vinyl.Title)
	}
}

func crateAdd(client *cratesync.Client, opts docopt.Opts) {
	shelf := parseShelf(opts)

	crate := client.Crate()
	if err := crate.LoadInitial(shelf); err != nil {
		panic(err)
	}

	vinyl, err := crate.AddVinyl(&cratesync.AddVinylArgs{
		Title:  opts["<title>"].(string),
		Artist: opts["<artist>"].(string),
		Shelf:  shelf,
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("vinyl_id: %s\n", vinyl.VinylId)
}

func crateMove(client *cratesync.Client, opts docopt.Opts) {
	vinylId, err := cratesync.ParseId(opts["<vinyl_id>"].(string))
	if err != nil {
		panic(err)
	}
	toShelf := parseShelf(opts)

	crate := client.Crate()
	if err := crate.LoadInitial(cratesync.ShelfCollection); err != nil {
		panic(err)
	}
	if err := crate.LoadInitial(cratesync.ShelfWishlist); err != nil {
		panic(err)
	}

	if err := crate.MoveVinyl(vinylId, toShelf); err != nil {
		panic(err)
	}
	fmt.Printf("moved %s to %s\n", vinylId, toShelf)
}

func search(client *cratesync.Client, opts docopt.Opts) {
	view := client.NewSearch(opts["<query>"].(string))

	if err := view.LoadInitial(); err != nil {
		panic(err)
	}
	for view.List().HasMore() {
		if err := view.LoadMore(); err != nil {
			panic(err)
		}
	}
	for _, vinyl := range view.List().Items() {
		fmt.Printf("%s  %s - %s\n", vinyl.VinylId, vinyl.Artist, vinyl.Title)
	}
}

func follow(client *cratesync.Client, opts docopt.Opts) {
	userId, err := cratesync.ParseId(opts["<user_id>"].(string))
	if err != nil {
		panic(err)
	}

	view := client.NewProfileView()
	if err := view.Load(userId); err != nil {
		panic(err)
	}

	following, err := view.ToggleFollow()
	if err != nil {
		panic(err)
	}
	profile := view.Profile()
	fmt.Printf("following %s: %t (followers=%d)\n", profile.UserName, following, profile.FollowersCount)
}

func notifications(client *cratesync.Client, opts docopt.Opts) {
	store := client.NotificationStore()

	// the coordinator initializes the store off the login transition.
	// wait briefly for it to come up
	deadline := time.Now().Add(5 * time.Second)
	for client.Coordinator().StoreState("notifications") != cratesync.StoreStateReady && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	items := store.List().Items()
	for _, notification := range items {
		read := " "
		if notification.Read {
			read = "x"
		}
		fmt.Printf("[%s] %s %s\n", read, notification.Kind, notification.NotificationId)
	}
	fmt.Printf("unread: %d\n", store.UnreadCount())

	if markRead_, _ := opts.Bool("--mark_read"); markRead_ {
		notificationIds := []cratesync.Id{}
		for _, notification := range items {
			if !notification.Read {
				notificationIds = append(notificationIds, notification.NotificationId)
			}
		}
		if 0 < len(notificationIds) {
			if err := store.MarkRead(notificationIds); err != nil {
				panic(err)
			}
			fmt.Printf("marked %d read\n", len(notificationIds))
		}
	}
}

func printPosts(posts []*cratesync.Post) {
	for _, post := range posts {
		liked := " "
		if post.IsLiked {
			liked = "*"
		}
		fmt.Printf(
			"%s [%s]%s %s: %s - %s (likes=%d comments=%d)\n",
			post.PostId,
			post.Kind,
			liked,
			post.UserName,
			post.VinylArtist,
			post.VinylTitle,
			post.LikesCount,
			post.CommentsCount,
		)
	}
}

func RequireVersion() string {
	if version := os.Getenv("CRATEDIG_VERSION"); version != "" {
		return version
	}
	return LocalVersion
}
