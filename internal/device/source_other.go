//go:build !linux

package device

func openPlatform(string, bool) (handle, error) {
	return nil, ErrNotAvailable
}

func listPlatform() ([]Info, error) {
	return nil, ErrNotAvailable
}
