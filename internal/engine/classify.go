package engine

import "strings"

// FailureKind partitions per-repository failures by how the run should
// react to them.
type FailureKind int

const (
	// KindGeneric failures count against the one repository and the run
	// moves on.
	KindGeneric FailureKind = iota

	// KindDiskFull failures mean the local working area cannot hold this
	// repository. It is added to the skip list so future runs do not
	// retry it.
	KindDiskFull

	// KindRemoteFull failures mean the remote store is out of space.
	// Nothing else can be uploaded, so the rest of the queue is abandoned.
	KindRemoteFull
)

var diskFullIndicators = []string{
	"no space left on device",
	"disk quota exceeded",
	"out of memory",
	"cannot allocate memory",
	"oom",
}

var remoteFullIndicators = []string{
	"507",
	"insufficient storage",
	"quota exceeded",
	"storage full",
}

// Classify inspects an error's text to decide the failure kind. The
// signals come from git, the OS, and WebDAV status lines, so substring
// matching over the whole chain is the only uniform handle we have.
func Classify(err error) FailureKind {
	if err == nil {
		return KindGeneric
	}

	msg := strings.ToLower(err.Error())

	// EDQUOT's "disk quota exceeded" embeds the remote "quota exceeded"
	// signal, so the local check for it must run first.
	if strings.Contains(msg, "disk quota exceeded") {
		return KindDiskFull
	}

	for _, indicator := range remoteFullIndicators {
		if strings.Contains(msg, indicator) {
			return KindRemoteFull
		}
	}

	for _, indicator := range diskFullIndicators {
		if strings.Contains(msg, indicator) {
			return KindDiskFull
		}
	}

	return KindGeneric
}

// truncateReason bounds a skip-list reason to something readable.
func truncateReason(err error) string {
	msg := err.Error()
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}

	return msg
}
