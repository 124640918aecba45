// Package event defines what dominject reports to its sinks. Consumers
// import it to decode the JSON lines of the stdout sink or to receive the
// values in-process.
package event

import "github.com/hazyhaar/dominject/inject"

// Scan is emitted after every scan of one integration on one page.
type Scan struct {
	ID          string        `json:"id"` // UUIDv7
	PageID      string        `json:"page_id"`
	PageURL     string        `json:"page_url"`
	Integration string        `json:"integration"`
	Seq         uint64        `json:"seq"` // per page and integration
	Result      inject.Result `json:"result"`
	Timestamp   int64         `json:"timestamp"` // epoch milliseconds
}

// Action is emitted when an injected control is pressed.
type Action struct {
	ID          string `json:"id"` // UUIDv7
	PageID      string `json:"page_id"`
	PageURL     string `json:"page_url"`
	Integration string `json:"integration"`
	HostID      string `json:"host_id"`
	Text        string `json:"text"`
	Empty       bool   `json:"empty,omitempty"` // Text is the placeholder
	Timestamp   int64  `json:"timestamp"`
}
