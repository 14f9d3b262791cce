package utils

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

func NewRandID() string {
	randUUID, _ := uuid.NewRandom()
	return strings.Replace(randUUID.String(), "-", "", -1)
}

var (
	instanceID   string
	onceInstance sync.Once
)

// GetInstanceID returns the unique id representing the current process.
func GetInstanceID() string {
	onceInstance.Do(func() {
		instanceID = NewRandID()
	})
	return instanceID
}
