// Package sandbox runs code fragments extracted from conversation replies.
//
// Each session gets its own working directory; a run is killed together with
// its process group when its timeout expires, and a process that cannot be
// killed is reported as ErrTerminateFailed.
package sandbox
