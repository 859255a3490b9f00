package cratesync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"golang.org/x/exp/maps"
)

const realtimeSendBufferSize = 32

type RealtimeClientSettings struct {
	WsHandshakeTimeout time.Duration
	AuthTimeout        time.Duration
	ReconnectTimeout   time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
}

func DefaultRealtimeClientSettings() *RealtimeClientSettings {
	return &RealtimeClientSettings{
		WsHandshakeTimeout: 2 * time.Second,
		AuthTimeout:        2 * time.Second,
		ReconnectTimeout:   5 * time.Second,
		PingTimeout:        1 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        15 * time.Second,
	}
}

// client -> server frames
type realtimeRequest struct {
	SessionToken string `json:"session_token,omitempty"`
	Subscribe    string `json:"subscribe,omitempty"`
	Unsubscribe  string `json:"unsubscribe,omitempty"`
}

// server -> client frames
type realtimeMessage struct {
	Ok      bool            `json:"ok,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Error   string          `json:"error,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
}

type realtimeSubscription struct {
	client     *RealtimeClient
	channelKey string
	onMessage  func(message []byte)
	onClose    func(err error)

	closeOnce sync.Once
}

func (self *realtimeSubscription) Close() {
	self.closeOnce.Do(func() {
		self.client.unsubscribe(self.channelKey)
	})
}

// the single websocket connection to the gateway push endpoint.
// owned by the lifecycle coordinator: one client per authenticated
// session, closed on session teardown.
//
// the client reconnects until closed. logical channel subscriptions
// survive reconnects; they are replayed after each successful handshake
type RealtimeClient struct {
	ctx    context.Context
	cancel context.CancelFunc

	realtimeUrl  string
	sessionToken string

	settings *RealtimeClientSettings

	stateLock sync.Mutex

	subs map[string]*realtimeSubscription
	send chan []byte
}

func NewRealtimeClientWithDefaults(ctx context.Context, realtimeUrl string, sessionToken string) *RealtimeClient {
	return NewRealtimeClient(ctx, realtimeUrl, sessionToken, DefaultRealtimeClientSettings())
}

func NewRealtimeClient(ctx context.Context, realtimeUrl string, sessionToken string, settings *RealtimeClientSettings) *RealtimeClient {
	cancelCtx, cancel := context.WithCancel(ctx)
	client := &RealtimeClient{
		ctx:          cancelCtx,
		cancel:       cancel,
		realtimeUrl:  realtimeUrl,
		sessionToken: sessionToken,
		settings:     settings,
		subs:         map[string]*realtimeSubscription{},
		send:         make(chan []byte, realtimeSendBufferSize),
	}
	go client.run()
	return client
}

// Subscriber implementation
func (self *RealtimeClient) Subscribe(channelKey string, onMessage func(message []byte), onClose func(err error)) (ChannelSubscription, error) {
	sub := &realtimeSubscription{
		client:     self,
		channelKey: channelKey,
		onMessage:  onMessage,
		onClose:    onClose,
	}

	err := func() error {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if _, ok := self.subs[channelKey]; ok {
			return fmt.Errorf("already subscribed to %s", channelKey)
		}
		self.subs[channelKey] = sub
		return nil
	}()
	if err != nil {
		return nil, err
	}

	self.sendRequest(&realtimeRequest{
		Subscribe: channelKey,
	})
	return sub, nil
}

func (self *RealtimeClient) unsubscribe(channelKey string) {
	removed := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if _, ok := self.subs[channelKey]; !ok {
			return false
		}
		delete(self.subs, channelKey)
		return true
	}()
	if removed {
		self.sendRequest(&realtimeRequest{
			Unsubscribe: channelKey,
		})
	}
}

func (self *RealtimeClient) sendRequest(request *realtimeRequest) {
	message, err := json.Marshal(request)
	if err != nil {
		return
	}
	select {
	case <-self.ctx.Done():
	case self.send <- message:
	default:
		// full. the frame is replayed on the next reconnect
		glog.Infof("[rt]send buffer full\n")
	}
}

func (self *RealtimeClient) activeSubs() []*realtimeSubscription {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return maps.Values(self.subs)
}

func (self *RealtimeClient) dropSub(channelKey string, err error) {
	var sub *realtimeSubscription
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		sub = self.subs[channelKey]
		delete(self.subs, channelKey)
	}()
	if sub != nil && sub.onClose != nil {
		safeInvoke(func() {
			sub.onClose(err)
		})
	}
}

func (self *RealtimeClient) run() {
	defer self.cancel()

	for {
		connect := func() (*websocket.Conn, error) {
			dialer := &websocket.Dialer{
				HandshakeTimeout: self.settings.WsHandshakeTimeout,
			}
			ws, _, err := dialer.DialContext(self.ctx, self.realtimeUrl, nil)
			if err != nil {
				return nil, err
			}

			success := false
			defer func() {
				if !success {
					ws.Close()
				}
			}()

			authBytes, err := json.Marshal(&realtimeRequest{
				SessionToken: self.sessionToken,
			})
			if err != nil {
				return nil, err
			}

			ws.SetWriteDeadline(time.Now().Add(self.settings.AuthTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, authBytes); err != nil {
				return nil, err
			}
			ws.SetReadDeadline(time.Now().Add(self.settings.AuthTimeout))
			_, message, err := ws.ReadMessage()
			if err != nil {
				return nil, err
			}
			var ack realtimeMessage
			if err := json.Unmarshal(message, &ack); err != nil {
				return nil, err
			}
			if !ack.Ok {
				return nil, fmt.Errorf("auth response error: %s", ack.Error)
			}

			success = true
			return ws, nil
		}

		ws, err := connect()
		if err != nil {
			glog.Infof("[rt]auth error = %s\n", err)
			select {
			case <-self.ctx.Done():
				return
			case <-time.After(self.settings.ReconnectTimeout):
				continue
			}
		}

		self.handle(ws)

		select {
		case <-self.ctx.Done():
			return
		case <-time.After(self.settings.ReconnectTimeout):
		}
	}
}

func (self *RealtimeClient) handle(ws *websocket.Conn) {
	defer ws.Close()

	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()

	// frames queued while disconnected are superseded by the replay
	// below, which carries the full logical subscription state. draining
	// them keeps the server from seeing duplicate subscribe frames.
	// a subscribe racing the handshake can still send twice, which the
	// server treats as idempotent per channel
	drained := false
	for !drained {
		select {
		case <-self.send:
		default:
			drained = true
		}
	}

	// replay the logical subscriptions on this connection
	for _, sub := range self.activeSubs() {
		message, err := json.Marshal(&realtimeRequest{
			Subscribe: sub.channelKey,
		})
		if err != nil {
			continue
		}
		ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
		if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
			glog.Infof("[rt]replay error = %s\n", err)
			return
		}
	}

	go func() {
		defer handleCancel()

		for {
			select {
			case <-handleCtx.Done():
				return
			case message, ok := <-self.send:
				if !ok {
					return
				}

				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
					// note that for websocket a deadline timeout cannot be recovered
					glog.Infof("[rt]-> error = %s\n", err)
					return
				}
				glog.V(2).Infof("[rt]->\n")
			case <-time.After(self.settings.PingTimeout):
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, []byte("{}")); err != nil {
					return
				}
			}
		}
	}()

	func() {
		defer handleCancel()

		for {
			select {
			case <-handleCtx.Done():
				return
			default:
			}

			ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
			messageType, message, err := ws.ReadMessage()
			if err != nil {
				glog.Infof("[rt]<- error = %s\n", err)
				return
			}

			switch messageType {
			case websocket.TextMessage:
				if len(message) == 0 {
					// ping
					glog.V(2).Infof("[rt]ping<-\n")
					continue
				}
				self.receive(message)
			default:
				glog.V(2).Infof("[rt]other=%d<-\n", messageType)
			}
		}
	}()
}

func (self *RealtimeClient) receive(message []byte) {
	var wire realtimeMessage
	if err := json.Unmarshal(message, &wire); err != nil {
		glog.Infof("[rt]drop malformed frame = %s\n", err)
		return
	}
	if wire.Channel == "" {
		// ack or keepalive
		return
	}

	if wire.Error != "" {
		// the server rejected or revoked this channel
		self.dropSub(wire.Channel, fmt.Errorf("%s", wire.Error))
		return
	}

	var sub *realtimeSubscription
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		sub = self.subs[wire.Channel]
	}()
	if sub == nil {
		glog.V(2).Infof("[rt]drop event for inactive channel %s\n", wire.Channel)
		return
	}
	if sub.onMessage != nil && 0 < len(wire.Event) {
		safeInvoke(func() {
			sub.onMessage(wire.Event)
		})
	}
}

func (self *RealtimeClient) Close() {
	self.cancel()
}
