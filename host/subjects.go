// Package host implements the workflow host: a NATS-backed surface for
// starting workflow machines, signalling them, querying their state, and
// listing executions. Starts and signals travel over JetStream (durable,
// at-least-once); queries use core request/reply against the worker that
// holds the instance in memory.
package host

import (
	"fmt"
	"strings"
)

// DefaultNamespace isolates deployments sharing one NATS cluster.
const DefaultNamespace = "default"

func startSubject(namespace, queue string) string {
	return fmt.Sprintf("%s.wf.start.%s", namespace, queue)
}

func signalSubject(namespace, workflowID string) string {
	return fmt.Sprintf("%s.wf.signal.%s", namespace, workflowID)
}

func querySubject(namespace, workflowID, name string) string {
	return fmt.Sprintf("%s.wf.query.%s.%s", namespace, workflowID, name)
}

func queryWildcard(namespace string) string {
	return fmt.Sprintf("%s.wf.query.>", namespace)
}

func streamName(namespace string) string {
	return "SLEUTH_WF_" + sanitize(namespace)
}

func registryBucket(namespace string) string {
	return "SLEUTH_REG_" + sanitize(namespace)
}

// sanitize maps a namespace to characters valid in stream and bucket
// names.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
