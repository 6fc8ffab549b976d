package errs

import (
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/status"
)

// Domain is the error domain attached to gRPC error details.
const Domain = "predictledger"

// Error is a domain failure. Kind and Code never change for a given cause;
// Message is the fixed human-readable text.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by code so wrapped copies of a sentinel still compare equal.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsKind reports whether err carries a domain error of the given kind.
func IsKind(err error, kind Kind) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == kind
}

// ToStatus converts err into a gRPC status error with ErrorInfo details.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if !errors.As(err, &de) {
		return status.Error(KindInternal.GRPCCode(), err.Error())
	}

	st := status.New(de.Kind.GRPCCode(), de.Error())
	withDetails, detailErr := st.WithDetails(&errdetails.ErrorInfo{
		Reason: string(de.Code),
		Domain: Domain,
		Metadata: map[string]string{
			"kind": de.Kind.String(),
		},
	})
	if detailErr != nil {
		return st.Err()
	}
	return withDetails.Err()
}

// FromStatus rebuilds a domain error from a status produced by ToStatus,
// so clients can match it against the sentinels with errors.Is.
func FromStatus(err error) (*Error, bool) {
	st, ok := status.FromError(err)
	if !ok {
		return nil, false
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.Domain == Domain {
			return &Error{
				Kind:    ParseKind(info.Metadata["kind"]),
				Code:    Code(info.Reason),
				Message: st.Message(),
			}, true
		}
	}
	return nil, false
}
