package host

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// StartEmbedded runs an in-process NATS server with JetStream enabled on
// a random port, for single-binary dev mode and integration tests.
func StartEmbedded(storeDir string) (*server.Server, error) {
	opts := &server.Options{
		Port:      -1, // Random available port
		JetStream: true,
		StoreDir:  storeDir,
		NoLog:     true,
		NoSigs:    true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server failed to start")
	}

	return ns, nil
}
