package ingest

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// Window is one profile received on /ingest.
type Window struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Name       string    `gorm:"size:255;index" json:"name"`
	From       int64     `json:"from"`
	Until      int64     `json:"until"`
	Units      string    `gorm:"size:32" json:"units,omitempty"`
	SpyName    string    `gorm:"size:32" json:"spy_name,omitempty"`
	SampleRate int       `json:"sample_rate,omitempty"`
	UploadID   string    `gorm:"size:64" json:"upload_id,omitempty"`
	Bytes      int       `json:"bytes"`
	Stacks     int       `json:"stacks"`
	Total      int64     `json:"total"`
	ReceivedAt time.Time `json:"received_at"`
}

func (Window) TableName() string {
	return "ingested_windows"
}

// parseFolded checks every "stack value" line of body and returns how many
// stacks it holds and the sum of their values.
func parseFolded(body []byte) (stacks int, total int64, err error) {
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for line := 1; sc.Scan(); line++ {
		b := bytes.TrimRight(sc.Bytes(), "\r")
		if len(b) == 0 {
			continue
		}
		i := bytes.LastIndexByte(b, ' ')
		if i <= 0 {
			return 0, 0, fmt.Errorf("line %d: missing value", line)
		}
		v, err := strconv.ParseInt(string(b[i+1:]), 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("line %d: %w", line, err)
		}
		stacks++
		total += v
	}
	return stacks, total, sc.Err()
}
