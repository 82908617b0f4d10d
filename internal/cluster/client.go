package cluster

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Client is a worker's link to the coordinator over HTTP/JSON.
// RequestWork and ReportFound are blocking round trips.
type Client struct {
	base string
	log  *logrus.Entry
}

// NewClient returns a client for the coordinator at base, for example
// "http://127.0.0.1:8080".
func NewClient(base string, log *logrus.Entry) *Client {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{base: strings.TrimRight(base, "/"), log: log}
}

// Register announces the worker, retrying up to attempts times with delay
// between tries to ride out a coordinator that is still starting.
func (c *Client) Register(ctx context.Context, info WorkerInfo, attempts int, delay time.Duration) error {
	body := RegisterRequest{Worker: info}
	var lastErr error
	for i := 0; i < attempts; i++ {
		lastErr = PostJSON(ctx, c.base+"/register", body, nil)
		if lastErr == nil {
			c.log.WithField("coordinator", c.base).Info("registered with coordinator")
			return nil
		}
		c.log.WithFields(logrus.Fields{"attempt": i + 1, "error": lastErr}).Warn("register retry")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("register with %s: %w", c.base, lastErr)
}

func (c *Client) RequestWork(ctx context.Context, workerID string) (Assignment, error) {
	var a Assignment
	if err := PostJSON(ctx, c.base+"/work", WorkRequest{WorkerID: workerID}, &a); err != nil {
		return Assignment{}, fmt.Errorf("request work: %w", err)
	}
	return a, nil
}

func (c *Client) ReportFound(ctx context.Context, workerID string, key uint64) error {
	if err := PostJSON(ctx, c.base+"/found", FoundRequest{WorkerID: workerID, Key: key}, nil); err != nil {
		return fmt.Errorf("report found key %d: %w", key, err)
	}
	return nil
}
