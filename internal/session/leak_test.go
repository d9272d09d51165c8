//go:build leaktests

package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// TestSessionLifetimeNoLeaks verifies that Stop tears down the watcher,
// the debouncer, the recovery sweep and the batch processor completely.
func TestSessionLifetimeNoLeaks(t *testing.T) {
	defer goleak.VerifyNone(t)

	proj := testProject(t, "ReplicatedStorage")
	mountDir := proj.Mounts[0].Path
	require.NoError(t, os.WriteFile(filepath.Join(mountDir, "Util.lua"), []byte("return {}"), 0o644))

	s, err := Open(proj, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start())

	stream, cancel := s.Subscribe(0)

	// Drive at least one batch through the pipeline before teardown.
	require.NoError(t, os.WriteFile(filepath.Join(mountDir, "More.lua"), []byte("return 2"), 0o644))
	select {
	case <-stream:
	case <-time.After(5 * time.Second):
		t.Fatal("no patch before shutdown")
	}

	cancel()
	s.Stop()
}
