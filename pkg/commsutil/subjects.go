package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	DefaultSubjectPrefix = "svc"
	SubjectCallEvents    = "rpc.calls"
)

// BuildServiceSubject builds the request subject a service version listens on,
// e.g. "svc.inventory.v1".
func BuildServiceSubject(prefix, service string, major int) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	safe := strings.ReplaceAll(service, ".", "_")
	return fmt.Sprintf("%s.%s.v%d", prefix, safe, major)
}

// BuildCallEventSubject builds a granular call audit subject.
func BuildCallEventSubject(service, method string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectCallEvents, service, method)
}
