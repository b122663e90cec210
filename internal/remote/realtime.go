package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const reconnectDelay = 5 * time.Second

// Subscribe implements Backend. It dials the realtime endpoint and pumps
// change frames into the returned channel, reconnecting after transient
// failures until ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context, table, owner string) (<-chan Change, error) {
	wsURL, err := c.realtimeURL(table, owner)
	if err != nil {
		return nil, err
	}

	ch := make(chan Change, 64)
	go c.feedLoop(ctx, wsURL, table, ch)
	return ch, nil
}

func (c *Client) realtimeURL(table, owner string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("remote: parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/v1/realtime"
	q := u.Query()
	q.Set("table", table)
	q.Set("owner", owner)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// feedLoop keeps one websocket subscription alive. Each dial failure or read
// error is followed by a delay and a fresh dial; the loop exits only when ctx
// is done.
func (c *Client) feedLoop(ctx context.Context, wsURL, table string, ch chan<- Change) {
	defer close(ch)

	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.readFeed(ctx, wsURL, table, ch); err != nil && ctx.Err() == nil {
			c.logger.Warn("realtime: connection lost, reconnecting",
				slog.String("table", table),
				slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *Client) readFeed(ctx context.Context, wsURL, table string, ch chan<- Change) error {
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + c.apiKey}},
	})
	if err != nil {
		return fmt.Errorf("remote: dial realtime: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	c.logger.Info("realtime: subscribed", slog.String("table", table))

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("remote: read realtime: %w", err)
		}
		var change Change
		if err := json.Unmarshal(data, &change); err != nil {
			c.logger.Warn("realtime: bad frame", slog.String("error", err.Error()))
			continue
		}
		if change.Table == "" {
			change.Table = table
		}
		select {
		case ch <- change:
		case <-ctx.Done():
			return nil
		}
	}
}
