package rest

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/m3loqt/unihealth-app-sub008/internal/store"
)

const streamBuffer = 256

// Watch opens a live subscription to the given paths. The connection is
// re-established with exponential backoff after transport loss; every
// (re)connect starts with one snapshot event per watched path, delivered by
// the server, which the consumer must treat as a wholesale replacement.
func (c *Client) Watch(ctx context.Context, paths ...string) (store.Subscription, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return nil, err
	}
	u.Path = "/v1/watch"
	q := u.Query()
	for _, p := range paths {
		q.Add("path", p)
	}
	u.RawQuery = q.Encode()

	streamCtx, cancel := context.WithCancel(context.Background())
	s := &stream{
		client: c,
		url:    u.String(),
		ch:     make(chan store.Event, streamBuffer),
		ctx:    streamCtx,
		cancel: cancel,
	}
	s.wg.Add(1)
	go s.run()

	// The caller's ctx bounds the subscription's lifetime as well.
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-streamCtx.Done():
		}
	}()
	return s, nil
}

type stream struct {
	client *Client
	url    string
	ch     chan store.Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu  sync.Mutex
	err error
}

func (s *stream) Events() <-chan store.Event { return s.ch }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *stream) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *stream) run() {
	defer s.wg.Done()
	defer close(s.ch)

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 250 * time.Millisecond
	exp.MaxInterval = 30 * time.Second
	exp.MaxElapsedTime = 0 // reconnect until closed

	for {
		if s.ctx.Err() != nil {
			return
		}
		connected, err := s.connectOnce()
		if s.ctx.Err() != nil {
			return
		}
		if err != nil {
			s.setErr(err)
			s.client.log.Warn().Err(err).Msg("watch stream lost, reconnecting")
		}
		if connected {
			// A session that delivered events counts as healthy; back off
			// from scratch for the next attempt.
			exp.Reset()
		}
		select {
		case <-time.After(exp.NextBackOff()):
		case <-s.ctx.Done():
			return
		}
	}
}

// connectOnce dials, forwards events until the connection drops, and reports
// whether at least one event was delivered.
func (s *stream) connectOnce() (bool, error) {
	opts := &websocket.DialOptions{}
	if s.client.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + s.client.token}}
	}
	conn, _, err := websocket.Dial(s.ctx, s.url, opts)
	if err != nil {
		return false, err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	delivered := false
	for {
		var ev store.Event
		if err := wsjson.Read(s.ctx, conn, &ev); err != nil {
			return delivered, err
		}
		select {
		case s.ch <- ev:
			delivered = true
		case <-s.ctx.Done():
			return delivered, nil
		}
	}
}
