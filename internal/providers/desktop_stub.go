//go:build !darwin

package providers

import "fmt"

// Desktop is the stub provider for platforms without a desktop binding.
// Detection still runs; the foreground and background signals are simply
// never available.
type Desktop struct{}

// NewDesktop creates the stub provider.
func NewDesktop(processNames []string) *Desktop {
	return &Desktop{}
}

// ActiveTitle reports that no foreground signal is available.
func (d *Desktop) ActiveTitle() (string, error) {
	return "", fmt.Errorf("desktop provider not supported on this platform")
}

// ActiveProcessName reports that no foreground signal is available.
func (d *Desktop) ActiveProcessName() (string, error) {
	return "", fmt.Errorf("desktop provider not supported on this platform")
}

// ListWindows returns no candidates.
func (d *Desktop) ListWindows() ([]WindowInfo, error) {
	return nil, nil
}
