package portal

import (
	"encoding/json"
	"fmt"
	"os"
)

// Cookie is one session cookie captured from the live browser.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
}

// ItemRef identifies one line item discovered during the capture pass.
type ItemRef struct {
	ID          string `json:"id_renglon"`
	Description string `json:"description"`
}

// Session is the immutable snapshot handed from the browser collector to
// the HTTP-poll loop. It is passed by value so the browser may keep being
// used by the operator without racing the poll loop.
type Session struct {
	IDCot      string    `json:"id_cot"`
	AuctionURL string    `json:"auction_url"`
	Margin     string    `json:"margin"`
	Items      []ItemRef `json:"items"`
	Cookies    []Cookie  `json:"cookies"`
}

// Valid reports whether the session carries enough to drive a poll loop.
func (s Session) Valid() bool {
	return s.IDCot != "" && len(s.Items) > 0 && len(s.Cookies) > 0
}

// Save writes the session as JSON, readable by the poll subcommand.
func (s Session) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

// LoadSession reads a session previously written by Save.
func LoadSession(path string) (Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Session{}, fmt.Errorf("read session file: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("parse session file: %w", err)
	}
	if !s.Valid() {
		return Session{}, fmt.Errorf("session file %s is incomplete", path)
	}
	return s, nil
}
