package util

import "io"

// WithUpstream is implemented by types that wrap another closer/conn,
// letting Close reach through to the wrapped value.
type WithUpstream interface {
	Upstream() any
}

func Close(closers ...any) error {
	var retErr error
	for _, closer := range closers {
		if closer == nil {
			continue
		}
		switch c := closer.(type) {
		case io.Closer:
			err := c.Close()
			if err != nil {
				retErr = err
			}
			continue
		case WithUpstream:
			err := Close(c.Upstream())
			if err != nil {
				retErr = err
			}
		}
	}
	return retErr
}
