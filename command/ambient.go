package command

import (
	"log/slog"
	"os"
	"sync"

	"github.com/Paranoid-AF/burrow/session"
)

// ambientMu serialises every use of the process working directory. The
// working directory is shared by all goroutines, so only one session may
// have it borrowed at a time.
var ambientMu sync.Mutex

// inSessionDir runs fn with the process working directory set to the
// session directory and restores the previous directory afterwards. When
// changesDir is set and fn succeeds, the session adopts the directory fn
// left the process in.
func inSessionDir(sess *session.Session, changesDir bool, fn func() Result) Result {
	ambientMu.Lock()
	defer ambientMu.Unlock()

	orig, err := os.Getwd()
	if err != nil {
		return Failuref("Error processing command: %v", err)
	}
	if err := os.Chdir(sess.Dir()); err != nil {
		return Failuref("Error entering session directory: %v", err)
	}
	defer func() {
		if err := os.Chdir(orig); err != nil {
			slog.Error("failed to restore working directory", "dir", orig, "error", err)
		}
	}()

	res := fn()
	if changesDir && res.OK {
		wd, err := os.Getwd()
		if err != nil {
			return Failuref("Error processing command: %v", err)
		}
		sess.SetDir(wd)
	}
	return res
}
