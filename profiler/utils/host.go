package utils

import (
	"os"
	"sync"
)

var (
	hostname     string
	onceHostname sync.Once
)

// GetHostname prefers MY_NODE_NAME, which is how kubernetes exposes the node
// name to a container that cannot see it otherwise.
func GetHostname() string {
	onceHostname.Do(func() {
		hostname = os.Getenv("MY_NODE_NAME")
		if hostname == "" {
			if h, err := os.Hostname(); err == nil {
				hostname = h
			}
		}
	})
	return hostname
}
