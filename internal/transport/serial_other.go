//go:build !linux

package transport

import (
	"fmt"
	"os"
	"runtime"
)

func openSerial(path string, _ int) (*os.File, error) {
	return nil, fmt.Errorf("serial consoles are not supported on %s, use --telnet-host", runtime.GOOS)
}
