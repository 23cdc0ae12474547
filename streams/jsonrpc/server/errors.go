package server

import (
	"errors"
	"fmt"

	"github.com/Iwinswap/iwinswap-solvency-pool-go/protocols/poolregistry"
	"github.com/Iwinswap/iwinswap-solvency-pool-go/protocols/solvency"
)

const (
	codeInvalidParams = -32602
	codeServerError   = -32000
)

// Error carries a pool error over JSON-RPC. The error data is the
// solvency.Kind name so clients can classify rejections without parsing
// messages.
type Error struct {
	code int
	kind string
	err  error
}

func (e *Error) Error() string          { return e.err.Error() }
func (e *Error) Unwrap() error          { return e.err }
func (e *Error) ErrorCode() int         { return e.code }
func (e *Error) ErrorData() interface{} { return e.kind }

func toRPCError(err error) error {
	if err == nil {
		return nil
	}
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return err
	}
	if errors.Is(err, poolregistry.ErrPoolUnknown) {
		return &Error{code: codeInvalidParams, kind: solvency.KindValidation.String(), err: err}
	}
	kind := solvency.KindOf(err)
	code := codeServerError
	if kind == solvency.KindValidation {
		code = codeInvalidParams
	}
	return &Error{code: code, kind: kind.String(), err: err}
}

func invalidParams(format string, args ...any) error {
	return &Error{
		code: codeInvalidParams,
		kind: solvency.KindValidation.String(),
		err:  fmt.Errorf(format, args...),
	}
}
