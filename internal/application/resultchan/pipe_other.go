//go:build !unix

package resultchan

import "errors"

var errPipeUnsupported = errors.New("named pipe result channels are not supported on this platform")

// NewPipe is unavailable without named pipes; callers fall back to NewFile
func NewPipe(dir string) (Channel, error) {
	return nil, errPipeUnsupported
}

func writePipe(path string, data []byte) error {
	return errPipeUnsupported
}
