package source

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	mxm "github.com/Daneel-Li/feedback-dash/internal/models"
)

var errStreamEnded = errors.New("event stream ended")

type event struct {
	Name string
	Data string
}

// eventReader splits a text/event-stream body into events.
type eventReader struct {
	r *bufio.Reader
}

func newEventReader(r io.Reader) *eventReader {
	return &eventReader{r: bufio.NewReader(r)}
}

func (e *eventReader) Next() (event, error) {
	var ev event
	var data []string
	hasField := false
	for {
		line, err := e.r.ReadString('\n')
		if err != nil && line == "" {
			if err == io.EOF {
				return event{}, errStreamEnded
			}
			return event{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if !hasField {
				continue
			}
			ev.Data = strings.Join(data, "\n")
			if ev.Name == "" {
				ev.Name = "message"
			}
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Name = value
			hasField = true
		case "data":
			data = append(data, value)
			hasField = true
		}
		if err != nil {
			// last line without trailing newline
			return event{}, errStreamEnded
		}
	}
}

// snapshotTree mirrors the collection as raw json and applies put/patch events to it.
type snapshotTree struct {
	root json.RawMessage
}

func splitPath(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

func isNull(b json.RawMessage) bool {
	b = bytes.TrimSpace(b)
	return len(b) == 0 || bytes.Equal(b, []byte("null"))
}

// Put replaces the value at path; null deletes it.
func (t *snapshotTree) Put(path string, data json.RawMessage) {
	t.root = setIn(t.root, splitPath(path), data)
}

// Patch merges the children of data into the node at path.
func (t *snapshotTree) Patch(path string, data json.RawMessage) error {
	var children map[string]json.RawMessage
	if err := json.Unmarshal(data, &children); err != nil {
		return fmt.Errorf("patch data is not an object: %w", err)
	}
	segs := splitPath(path)
	for key, value := range children {
		t.root = setIn(t.root, append(append([]string(nil), segs...), splitPath(key)...), value)
	}
	return nil
}

func (t *snapshotTree) Records() ([]mxm.Feedback, error) {
	return mxm.DecodeSnapshot(t.root)
}

// setIn returns node with value stored under segs. Empty objects collapse to null,
// like the database does.
func setIn(node json.RawMessage, segs []string, value json.RawMessage) json.RawMessage {
	if len(segs) == 0 {
		if isNull(value) {
			return nil
		}
		return value
	}

	obj := map[string]json.RawMessage{}
	if !isNull(node) {
		if err := json.Unmarshal(node, &obj); err != nil {
			obj = map[string]json.RawMessage{}
		}
	}
	child := setIn(obj[segs[0]], segs[1:], value)
	if isNull(child) {
		delete(obj, segs[0])
	} else {
		obj[segs[0]] = child
	}
	if len(obj) == 0 {
		return nil
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return node
	}
	return b
}
