package store

import "fmt"

// Key namespaces for every record this service persists.
const (
	keyPrefix = "dossie"
)

// TaskKey is the key under which a Task record is stored.
func TaskKey(taskID string) string {
	return fmt.Sprintf("%s:task:%s", keyPrefix, taskID)
}

// QueueKey is the key for one (source, priority) band's ordered set.
func QueueKey(source Source, priority Priority) string {
	return fmt.Sprintf("%s:queue:%s:%d", keyPrefix, source, priority)
}

// RetryKey is the single shared time-ordered retry set.
func RetryKey() string {
	return fmt.Sprintf("%s:retry", keyPrefix)
}

// BreakerKey is the key for one source's circuit breaker state.
func BreakerKey(source Source) string {
	return fmt.Sprintf("%s:cb:%s", keyPrefix, source)
}

// ProgressKey is the key for one investigation's progress snapshot.
func ProgressKey(investigationID string) string {
	return fmt.Sprintf("%s:progress:%s", keyPrefix, investigationID)
}
