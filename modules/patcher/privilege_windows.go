//go:build windows

package patcher

import (
	"os"

	"golang.org/x/sys/windows"
)

// platformAcquirePrivilege attempts once to enable SeManageVolumePrivilege,
// the OS privilege that lets SetFileValidData skip zero-filling newly
// extended regions of a file. Best-effort: failure only means fast-extend
// is unavailable for this process, never a fatal condition.
func platformAcquirePrivilege(log logger) bool {
	var token windows.Token
	proc := windows.CurrentProcess()
	if err := windows.OpenProcessToken(proc, windows.TOKEN_ADJUST_PRIVILEGES|windows.TOKEN_QUERY, &token); err != nil {
		logPrivilegeFailure(log, err)
		return false
	}
	defer token.Close()

	var luid windows.LUID
	if err := windows.LookupPrivilegeValue(nil, windows.StringToUTF16Ptr("SeManageVolumePrivilege"), &luid); err != nil {
		logPrivilegeFailure(log, err)
		return false
	}

	privileges := windows.Tokenprivileges{
		PrivilegeCount: 1,
		Privileges: [1]windows.LUIDAndAttributes{{
			Luid:       luid,
			Attributes: windows.SE_PRIVILEGE_ENABLED,
		}},
	}
	if err := windows.AdjustTokenPrivileges(token, false, &privileges, 0, nil, nil); err != nil {
		logPrivilegeFailure(log, err)
		return false
	}
	return true
}

// platformFastExtend extends f to size using SetFileValidData, skipping the
// zero-fill the OS would otherwise perform. Requires
// SeManageVolumePrivilege to already be held by the process.
func platformFastExtend(f *os.File, size int64) error {
	if err := f.Truncate(size); err != nil {
		return err
	}
	return windows.SetFileValidData(windows.Handle(f.Fd()), size)
}

func logPrivilegeFailure(log logger, err error) {
	if log != nil {
		log.Println("could not acquire fast-extend privilege, falling back to slow preallocation:", err)
	}
}
