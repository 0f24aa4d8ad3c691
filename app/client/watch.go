package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"classicboard/app/models"

	"github.com/codeGROOVE-dev/retry"
)

var (
	// ErrStreamFailed is reported when the server ends the feed with an error event.
	ErrStreamFailed = errors.New("feed stream failed")

	errInterrupted = errors.New("feed stream interrupted")
)

// Watch follows the live feed and calls onUpdate with every snapshot, newest
// first, one call at a time. A dropped stream is reopened with exponential
// backoff; the attempt count starts over once a reopened stream delivers.
// Watch returns when ctx is done, on a 4xx answer, or when the attempts are
// used up.
func (c *Client) Watch(ctx context.Context, onUpdate func([]*models.Post)) error {
	for {
		var lastErr error
		err := retry.Do(
			func() error {
				lastErr = c.streamOnce(ctx, onUpdate)
				return lastErr
			},
			retry.Attempts(c.attempts),
			retry.Delay(c.delay),
			retry.MaxDelay(c.maxDelay),
			retry.MaxJitter(c.maxJitter),
			retry.Context(ctx),
			retry.OnRetry(func(n uint, err error) {
				c.logger.Info("Reopening feed stream after error", "attempt", n, "error", err)
			}),
			retry.RetryIf(func(err error) bool {
				return !isClientError(err) && !errors.Is(err, errInterrupted)
			}),
		)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			return nil
		}
		if errors.Is(lastErr, errInterrupted) {
			c.logger.Info("Feed stream dropped, reopening", "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.delay):
			}
			continue
		}
		return fmt.Errorf("after retries: %w", lastErr)
	}
}

// streamOnce reads one stream until it ends. An error after at least one
// snapshot is reported as errInterrupted.
func (c *Client) streamOnce(ctx context.Context, onUpdate func([]*models.Post)) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/posts/stream", "", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("open feed stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}

	delivered := false
	err = readEvents(resp.Body, func(event, data string) error {
		switch event {
		case "snapshot":
			var res feedResponse
			if err := json.Unmarshal([]byte(data), &res); err != nil {
				return fmt.Errorf("decode snapshot: %w", err)
			}
			if res.Posts == nil {
				res.Posts = []*models.Post{}
			}
			delivered = true
			onUpdate(res.Posts)
		case "error":
			var res errorResponse
			json.Unmarshal([]byte(data), &res)
			return fmt.Errorf("%w: %s", ErrStreamFailed, res.Error)
		}
		return nil
	})
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if delivered {
		return fmt.Errorf("%w: %w", errInterrupted, err)
	}
	return err
}

// readEvents parses a server-sent event stream, calling fn per event until
// fn fails or the stream ends. Comment lines are skipped.
func readEvents(r io.Reader, fn func(event, data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), 16<<20)

	var event string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event != "" || len(data) > 0 {
				if event == "" {
					event = "message"
				}
				if err := fn(event, strings.Join(data, "\n")); err != nil {
					return err
				}
			}
			event, data = "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return scanner.Err()
}
