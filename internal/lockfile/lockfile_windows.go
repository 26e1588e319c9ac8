//go:build windows

package lockfile

import (
	"errors"

	"golang.org/x/sys/windows"
)

// exit code GetExitCodeProcess reports for a process that has not exited
const stillActive = 259

// isProcessRunning opens pid and asks for its exit code. Handles to exited
// processes stay valid while someone holds them, so a successful open alone
// does not mean the holder is alive.
func isProcessRunning(pid int) (bool, string) {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	switch {
	case errors.Is(err, windows.ERROR_ACCESS_DENIED):
		// Exists but belongs to another user
		return true, ""
	case err != nil:
		return false, "process not found"
	}
	defer windows.CloseHandle(h)

	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false, "cannot query process"
	}
	if code != stillActive {
		return false, "process has finished"
	}
	return true, ""
}
