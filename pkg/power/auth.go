package power

import (
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Authorizer decides whether the caller may change cpu settings
type Authorizer interface {
	IsAuthorized() (bool, error)
}

// AuthorizerFunc adapts a plain function to the Authorizer interface
type AuthorizerFunc func() (bool, error)

func (f AuthorizerFunc) IsAuthorized() (bool, error) {
	return f()
}

// AlwaysAuthorized is used where the platform already restricted who can reach the core
var AlwaysAuthorized Authorizer = AuthorizerFunc(func() (bool, error) { return true, nil })

type fileAccessAuthorizer struct {
	path string
}

// NewFileAccessAuthorizer authorizes the process when the kernel would let it write the
// scaling governor of cpu0, used when settings are applied in-process without a helper
func NewFileAccessAuthorizer(path string) Authorizer {
	if path == "" {
		path = basePath
	}
	return &fileAccessAuthorizer{path: filepath.Join(path, "cpu0", scalingGovFile)}
}

func (a *fileAccessAuthorizer) IsAuthorized() (bool, error) {
	err := unix.Access(a.path, unix.W_OK)
	if err == unix.EACCES || err == unix.EPERM || err == unix.EROFS {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
