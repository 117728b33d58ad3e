// Package signaling implements the long-lived, reconnecting, authenticated
// pub/sub session that negotiates the RTP endpoint and carries alerts: a
// SockJS-style WebSocket carrying STOMP-framed text messages.
package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nuvion/edge-agent/pkg/authtoken"
)

const (
	reconnectBackoff  = 10 * time.Second
	connectTimeout    = 10 * time.Second
	commandSubID      = "sub-command"
	commandDestination = "/user/queue/command"
)

// EndpointReady is the decoded RTP_ENDPOINT_READY command payload after any
// SDP fields have been resolved into concrete ip/port/payloadType values.
type EndpointReady struct {
	BroadcastID string
	IP          string
	Port        int
	PayloadType int
	RTCPPort    *int
	RTCPMux     *bool
	Comedia     *bool
}

// EndpointReadyHandler is invoked once per RTP_ENDPOINT_READY command.
type EndpointReadyHandler func(EndpointReady)

// outboundItem is a single queued message awaiting a SEND frame.
type outboundItem struct {
	destination string
	payload     any
}

// rawCommand mirrors the wire shape of a command delivered to
// /user/queue/command, including the optional sdp field.
type rawCommand struct {
	Type        string  `json:"type"`
	BroadcastID string  `json:"broadcastId"`
	IP          *string `json:"ip"`
	Port        *int    `json:"port"`
	PayloadType *int    `json:"payloadType"`
	RTCPPort    *int    `json:"rtcpPort"`
	RTCPMux     *bool   `json:"rtcpMux"`
	Comedia     *bool   `json:"comedia"`
	SDP         string  `json:"sdp"`
}

// Client is the signaling session supervisor. It owns the bounded outbound
// queue; callers never block on Enqueue.
type Client struct {
	wsURL    string
	host     string
	username string
	password string

	tokens *authtoken.Holder
	logger *slog.Logger

	rtpRemoteIPOverride string
	onEndpointReady     EndpointReadyHandler

	outbound chan outboundItem
}

// New creates a Client. wsBaseURL is the {ws-scheme}{server_host} prefix
// (e.g. "wss://signal.example.com"); queueMax bounds the outbound queue.
func New(wsBaseURL, username string, tokens *authtoken.Holder, queueMax int, rtpRemoteIPOverride string, logger *slog.Logger) *Client {
	host := wsBaseURL
	if u, err := url.Parse(wsBaseURL); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	return &Client{
		wsURL:               wsBaseURL,
		host:                host,
		username:            username,
		tokens:               tokens,
		logger:               logger,
		rtpRemoteIPOverride:  rtpRemoteIPOverride,
		outbound:             make(chan outboundItem, queueMax),
	}
}

// OnEndpointReady registers the handler invoked when an RTP_ENDPOINT_READY
// command arrives. Must be called before Run.
func (c *Client) OnEndpointReady(h EndpointReadyHandler) {
	c.onEndpointReady = h
}

// Enqueue offers a payload for delivery to destination. Non-blocking:
// returns false if the queue is full. Callers never wait.
func (c *Client) Enqueue(destination string, payload any) bool {
	select {
	case c.outbound <- outboundItem{destination: destination, payload: payload}:
		return true
	default:
		c.logger.Warn("outbound queue full, dropping message", "destination", destination)
		return false
	}
}

// Run is the forever-loop supervisor described in the component design: it
// obtains a token, opens a session, and reconnects with a fixed backoff on
// any error. It returns only when ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		token := c.tokens.Get()
		if token == "" {
			token = c.tokens.Refresh(ctx)
		}
		if token == "" {
			c.logger.Warn("no auth token available, retrying signaling connection", "backoff", reconnectBackoff)
			if !sleepOrDone(ctx, reconnectBackoff) {
				return ctx.Err()
			}
			continue
		}

		if err := c.runSession(ctx, token); err != nil {
			c.logger.Warn("signaling session ended, reconnecting", "error", err, "backoff", reconnectBackoff)
		}

		if !sleepOrDone(ctx, reconnectBackoff) {
			return ctx.Err()
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Client) runSession(ctx context.Context, token string) error {
	sessionURL := c.wsURL + fmt.Sprintf("/signaling/%03d/%s/websocket", rand.Intn(1000), randAlnum(8))

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, sessionURL, nil)
	if err != nil {
		return fmt.Errorf("dial signaling websocket: %w", err)
	}
	defer conn.Close()

	_, first, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read session-open frame: %w", err)
	}
	if string(first) != "o" {
		return fmt.Errorf("expected session-open frame %q, got %q", "o", string(first))
	}

	if err := c.sendFrame(conn, "CONNECT", map[string]string{
		"accept-version": "1.2,1.1,1.0",
		"heart-beat":      "10000,10000",
		"Authorization":   "Bearer " + token,
	}, ""); err != nil {
		return fmt.Errorf("send CONNECT: %w", err)
	}

	if err := c.awaitConnected(conn); err != nil {
		return err
	}

	if err := c.sendFrame(conn, "SUBSCRIBE", map[string]string{
		"id":          commandSubID,
		"destination": commandDestination,
	}, ""); err != nil {
		return fmt.Errorf("send SUBSCRIBE: %w", err)
	}

	sessionCtx, cancelSession := context.WithCancel(ctx)
	defer cancelSession()

	var senderWG sync.WaitGroup
	senderWG.Add(1)
	go func() {
		defer senderWG.Done()
		c.outboundSender(sessionCtx, conn)
	}()

	err = c.readLoop(conn)
	cancelSession()
	senderWG.Wait()
	return err
}

func (c *Client) awaitConnected(conn *websocket.Conn) error {
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read CONNECTED frame: %w", err)
	}
	frames, err := unwrapInbound(string(msg))
	if err != nil {
		return fmt.Errorf("unwrap CONNECTED envelope: %w", err)
	}
	for _, raw := range frames {
		f, err := parseFrame(raw)
		if err != nil {
			continue
		}
		if f.Command == "CONNECTED" {
			return nil
		}
	}
	return fmt.Errorf("did not receive CONNECTED frame")
}

func (c *Client) sendFrame(conn *websocket.Conn, command string, headers map[string]string, body string) error {
	raw := buildFrame(command, headers, body)
	env, err := wrapOutbound(raw)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(env))
}

// outboundSender drains the bounded outbound queue and writes each item as
// a SEND frame. It persists across the caller's context only for the
// lifetime of one session; the queue itself survives reconnects.
func (c *Client) outboundSender(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-c.outbound:
			body, err := json.Marshal(item.payload)
			if err != nil {
				c.logger.Warn("failed to marshal outbound payload", "destination", item.destination, "error", err)
				continue
			}
			if err := c.sendFrame(conn, "SEND", map[string]string{
				"destination":  item.destination,
				"content-type": "application/json",
			}, string(body)); err != nil {
				c.logger.Warn("failed to write SEND frame", "destination", item.destination, "error", err)
				return
			}
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read inbound message: %w", err)
		}

		frames, err := unwrapInbound(string(msg))
		if err != nil {
			// Heartbeats and other non-array control frames are ignored.
			continue
		}

		for _, raw := range frames {
			f, err := parseFrame(raw)
			if err != nil {
				c.logger.Warn("skipping malformed signaling frame", "error", err)
				continue
			}
			if f.Command != "MESSAGE" {
				continue
			}
			if f.Headers["destination"] != commandDestination {
				continue
			}
			c.handleCommand(f.Body)
		}
	}
}

func (c *Client) handleCommand(body string) {
	var cmd rawCommand
	if err := json.Unmarshal([]byte(body), &cmd); err != nil {
		c.logger.Warn("skipping malformed command body", "error", err)
		return
	}
	if cmd.Type != "RTP_ENDPOINT_READY" {
		return
	}
	if cmd.BroadcastID != "" && cmd.BroadcastID != c.username {
		return
	}

	ready := EndpointReady{
		BroadcastID: cmd.BroadcastID,
		RTCPPort:    cmd.RTCPPort,
		RTCPMux:     cmd.RTCPMux,
		Comedia:     cmd.Comedia,
	}

	// Any subset of ip/port/payloadType may be missing from the JSON; only
	// the missing ones are filled in from the sdp field, per-field.
	if cmd.IP == nil || cmd.Port == nil || cmd.PayloadType == nil {
		if cmd.SDP == "" {
			c.logger.Warn("RTP_ENDPOINT_READY missing ip/port/payloadType and no sdp to fall back to")
			return
		}
		sdpIP, sdpPort, sdpPT, err := ParseRTPEndpoint(cmd.SDP)
		if err != nil {
			c.logger.Warn("failed to parse sdp in RTP_ENDPOINT_READY", "error", err)
			return
		}
		if cmd.IP == nil {
			ready.IP = sdpIP
		}
		if cmd.Port == nil {
			ready.Port = sdpPort
		}
		if cmd.PayloadType == nil {
			ready.PayloadType = sdpPT
		}
	}
	if cmd.IP != nil {
		ready.IP = *cmd.IP
	}
	if cmd.Port != nil {
		ready.Port = *cmd.Port
	}
	if cmd.PayloadType != nil {
		ready.PayloadType = *cmd.PayloadType
	}

	if c.rtpRemoteIPOverride != "" {
		ready.IP = c.rtpRemoteIPOverride
	} else if ready.IP == "0.0.0.0" {
		ready.IP = c.host
	}

	if c.onEndpointReady != nil {
		c.onEndpointReady(ready)
	}
}

const alnumCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randAlnum(n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(alnumCharset[rand.Intn(len(alnumCharset))])
	}
	return b.String()
}
