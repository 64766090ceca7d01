package mailsync

import "time"

// FolderReport describes one folder pass.
type FolderReport struct {
	AccountID    string `json:"accountId"`
	Folder       string `json:"folder"`
	Fetched      int    `json:"fetched"`
	Ingested     int    `json:"ingested"`
	Failed       int    `json:"failed"`
	CursorBefore uint32 `json:"cursorBefore"`
	CursorAfter  uint32 `json:"cursorAfter"`
	Error        string `json:"error,omitempty"`
}

// Report summarizes one synchronization pass.
type Report struct {
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	Folders    []FolderReport `json:"folders"`
	// AccountErrors holds connection failures by account id.
	AccountErrors map[string]string `json:"accountErrors,omitempty"`
	// Skipped lists accounts still waiting out a backoff.
	Skipped []string `json:"skipped,omitempty"`
}

func (r *Report) addAccountError(accountID string, err error) {
	if r.AccountErrors == nil {
		r.AccountErrors = make(map[string]string)
	}
	r.AccountErrors[accountID] = err.Error()
}

// cursor computes the new last UID of a folder pass: the highest ingested UID below the
// lowest failed one, so a failed message is fetched again next time.
type cursor struct {
	start        uint32
	succeeded    []uint32
	lowestFailed uint32
}

func newCursor(start uint32) *cursor {
	return &cursor{start: start}
}

func (c *cursor) succeed(uid uint32) {
	c.succeeded = append(c.succeeded, uid)
}

func (c *cursor) fail(uid uint32) {
	if c.lowestFailed == 0 || uid < c.lowestFailed {
		c.lowestFailed = uid
	}
}

func (c *cursor) value() uint32 {
	v := c.start
	for _, uid := range c.succeeded {
		if uid > v && (c.lowestFailed == 0 || uid < c.lowestFailed) {
			v = uid
		}
	}
	return v
}
