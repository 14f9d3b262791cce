package common

import "time"

// Session identifies one profiling run of a single ProfileType.
type Session struct {
	ID            string
	AppName       string
	ServerAddress string
	ProfileType   ProfileType
	Interval      time.Duration
	SampleRate    int
	StartedAt     time.Time
	Tags          map[string]string
}

// UploadTask is created on flush and lives until delivered or dropped.
type UploadTask struct {
	UploadID string
	Profile  *Profile
	Session  *Session
	Attempt  int
}
