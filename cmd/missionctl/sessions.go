package main

import (
	"context"
	"fmt"

	"github.com/missionctl/missionctl/internal/worker"
)

// notImplementedSendViaSessions is the default capability wired into the
// standalone binary. Mission Control's worker deliberately keeps session
// delivery as an injected capability (see worker.SendViaSessions) rather
// than owning a transport; a real deployment replaces this with a call
// into whatever carries messages to an agent's session (the teacher's own
// worker connection, a message bus, etc).
func notImplementedSendViaSessions(ctx context.Context, targetSessionKey, text string, meta worker.SendMeta) (worker.SendResult, error) {
	return worker.SendResult{}, fmt.Errorf("no session delivery transport configured for %s", targetSessionKey)
}
