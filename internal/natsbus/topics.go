package natsbus

import (
	"fmt"
	"strings"
)

// Topic patterns for NATS pub/sub communication.

const TopicEventsAll = "events.>"

func TopicEventsRun(runID string) string {
	return fmt.Sprintf("events.run.%s", runID)
}

// TopicWorkerInvoke is the request subject served by workers for one
// backend. Backend ids may contain characters NATS treats as token
// separators or wildcards, so they are flattened.
func TopicWorkerInvoke(prefix, backend string) string {
	if prefix == "" {
		prefix = "worker"
	}
	return fmt.Sprintf("%s.%s.invoke", prefix, subjectToken(backend))
}

func subjectToken(s string) string {
	if s == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n':
			return '_'
		}
		return r
	}, s)
}
