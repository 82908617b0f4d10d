package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dreamware/keysearch/internal/keyspace"
)

// WorkerInfo identifies a worker process and the address its control
// endpoint listens on.
type WorkerInfo struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

type RegisterRequest struct {
	Worker WorkerInfo `json:"worker"`
}

// WorkRequest asks the coordinator for the next unit. The payload is only
// the sender identity.
type WorkRequest struct {
	WorkerID string `json:"worker_id"`
}

// AssignmentKind tags the coordinator's answer to a WorkRequest.
type AssignmentKind string

const (
	// AssignUnit carries a work unit to scan.
	AssignUnit AssignmentKind = "unit"
	// AssignTerminate means no more work: the worker exits cleanly.
	AssignTerminate AssignmentKind = "terminate"
	// AssignAbort means the run already completed with a found key.
	AssignAbort AssignmentKind = "abort"
)

type Assignment struct {
	Kind AssignmentKind    `json:"kind"`
	Unit keyspace.WorkUnit `json:"unit"`
}

func UnitAssignment(u keyspace.WorkUnit) Assignment {
	return Assignment{Kind: AssignUnit, Unit: u}
}

func TerminateAssignment() Assignment { return Assignment{Kind: AssignTerminate} }

func AbortAssignment() Assignment { return Assignment{Kind: AssignAbort} }

// FoundRequest reports a matching key to the coordinator.
type FoundRequest struct {
	WorkerID string `json:"worker_id"`
	Key      uint64 `json:"key"`
}

// ControlType tags messages the coordinator pushes to a worker's /control
// endpoint.
type ControlType string

const (
	// ControlStart distributes the ciphertext; sent once before any work.
	ControlStart ControlType = "start"
	// ControlAbort stops the scan loop because the run completed.
	ControlAbort ControlType = "abort"
)

type ControlMessage struct {
	Type       ControlType `json:"type"`
	Ciphertext []byte      `json:"ciphertext,omitempty"`
	Length     uint32      `json:"length,omitempty"`
	Key        uint64      `json:"key,omitempty"`
}

// StartMessage builds the one-shot broadcast that hands every worker its
// read-only copy of the ciphertext.
func StartMessage(ciphertext []byte) ControlMessage {
	return ControlMessage{
		Type:       ControlStart,
		Ciphertext: ciphertext,
		Length:     uint32(len(ciphertext)),
	}
}

// AbortMessage builds the broadcast sent once a key has been accepted.
func AbortMessage(key uint64) ControlMessage {
	return ControlMessage{Type: ControlAbort, Key: key}
}

// Validate checks that a start message's declared length matches its payload.
func (m ControlMessage) Validate() error {
	switch m.Type {
	case ControlStart:
		if len(m.Ciphertext) == 0 {
			return fmt.Errorf("start message without ciphertext")
		}
		if int(m.Length) != len(m.Ciphertext) {
			return fmt.Errorf("start message length %d does not match %d ciphertext bytes", m.Length, len(m.Ciphertext))
		}
		return nil
	case ControlAbort:
		return nil
	default:
		return fmt.Errorf("unknown control message type %q", m.Type)
	}
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
