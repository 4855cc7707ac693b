// Package message defines the frames exchanged with the remote peer.
//
// Outbound frames are JSON objects with exactly one key:
//
//	{"resize": [cols, rows]}
//	{"data": "<raw input>"}
//
// Outbound is a closed sum type: only Resize and Data implement it, so a
// frame with no tag or with both tags cannot be built.
//
// Inbound frames carry raw terminal output with no envelope. The one
// exception is the close notice some servers send right before closing the
// socket, {"event": "CLOSE", "reason": "..."}, which ParseCloseNotice
// recognizes.
package message

import (
	"encoding/json"
	"fmt"
)

// Outbound is a frame sent from the terminal to the peer.
type Outbound interface {
	// Encode returns the wire form of the frame.
	Encode() ([]byte, error)

	outbound()
}

// Resize informs the peer of a new terminal geometry.
type Resize struct {
	Cols int
	Rows int
}

func (Resize) outbound() {}

// Encode returns {"resize":[cols,rows]}.
func (r Resize) Encode() ([]byte, error) {
	return json.Marshal(struct {
		Resize [2]int `json:"resize"`
	}{[2]int{r.Cols, r.Rows}})
}

// String is used in log lines.
func (r Resize) String() string {
	return fmt.Sprintf("resize %dx%d", r.Cols, r.Rows)
}

// Data carries raw user input.
type Data struct {
	Text string
}

func (Data) outbound() {}

// Encode returns {"data":"..."}.
func (d Data) Encode() ([]byte, error) {
	return json.Marshal(struct {
		Data string `json:"data"`
	}{d.Text})
}

// String is used in log lines. The payload itself is not printed.
func (d Data) String() string {
	return fmt.Sprintf("data (%d bytes)", len(d.Text))
}

// CloseEvent is the event name of a close notice.
const CloseEvent = "CLOSE"

type closeNotice struct {
	Event  *string `json:"event"`
	Reason *string `json:"reason"`
}

// ParseCloseNotice reports whether payload is exactly a close notice and
// returns its reason. Anything else, including terminal output that merely
// looks like JSON, is not a notice.
func ParseCloseNotice(payload []byte) (reason string, ok bool) {
	if len(payload) == 0 || payload[0] != '{' {
		return "", false
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return "", false
	}
	if len(raw) != 2 {
		return "", false
	}

	var n closeNotice
	if err := json.Unmarshal(payload, &n); err != nil {
		return "", false
	}
	if n.Event == nil || n.Reason == nil || *n.Event != CloseEvent {
		return "", false
	}
	return *n.Reason, true
}
