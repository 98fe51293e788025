package transport

import (
	"context"
	"fmt"
	"io"

	fderr "openfd/internal/errors"
)

// Serial is a local serial port running 8N1 raw mode.
type Serial struct {
	Path string
	Baud int
}

func (s *Serial) String() string {
	return fmt.Sprintf("serial://%s@%d", s.Path, s.Baud)
}

// Open configures the port and returns it.  The descriptor stays
// non-blocking so that Close unblocks a pending Read.
func (s *Serial) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, fderr.WrapTransport("open", s.Path, err)
	}
	f, err := openSerial(s.Path, s.Baud)
	if err != nil {
		return nil, fderr.WrapTransport("open", s.Path, err)
	}
	return f, nil
}
