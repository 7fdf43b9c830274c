package chain

import "fmt"

// ErrFileNotFound is returned by Chain.Header when the chain's header file
// does not exist on disk although the requested height lies within the
// chain's cached size. It does not tell a missing headers directory apart
// from a missing file.
type ErrFileNotFound struct {
	Path string
}

func (e *ErrFileNotFound) Error() string {
	return fmt.Sprintf("chain: headers file not found: %s", e.Path)
}

// ErrInvalidHeader is returned by VerifyHeader and VerifyChunk when a
// header fails to connect or fails proof-of-work.
type ErrInvalidHeader struct {
	Reason string
}

func (e *ErrInvalidHeader) Error() string {
	return "invalid header: " + e.Reason
}

// ErrForkingHeader is returned by Fork when the supplied header does not
// connect to the parent chain it is meant to fork from.
type ErrForkingHeader struct {
	Reason string
}

func (e *ErrForkingHeader) Error() string {
	return "cannot fork: " + e.Reason
}
