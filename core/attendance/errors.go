package attendance

import "github.com/pkg/errors"

var (
	ErrClassNotFound = errors.New("class not found")
	ErrForbidden     = &ForbiddenError{msg: "access denied"}
	// ErrCancelForbidden is returned when a teacher cancels a session of a class they do not teach.
	ErrCancelForbidden = &ForbiddenError{msg: "you can only cancel your own class sessions"}
)

// ForbiddenError is returned when the actor may not touch a class.
type ForbiddenError struct {
	msg string
}

func (err *ForbiddenError) Error() string {
	return err.msg
}
