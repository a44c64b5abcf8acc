package funcache

import (
	"runtime"
	"strings"
)

// DefaultOwner is the owner assigned when the caller's package path
// cannot be determined.
const DefaultOwner = "default"

// callerOwner returns the full package path of the caller skip frames
// up the stack, so wrapped functions inherit their defining package as
// owner without spelling it out.
func callerOwner(skip int) string {
	pc, _, _, ok := runtime.Caller(skip)
	if !ok {
		return DefaultOwner
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return DefaultOwner
	}
	return packageOf(fn.Name())
}

// packageOf extracts the package path from a fully qualified function
// name, e.g. "github.com/acme/app/users.GetUser.func1" yields
// "github.com/acme/app/users".
func packageOf(qualified string) string {
	slash := strings.LastIndex(qualified, "/")
	dot := strings.Index(qualified[slash+1:], ".")
	if dot < 0 {
		return DefaultOwner
	}
	return qualified[:slash+1+dot]
}
