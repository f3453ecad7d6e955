package domain

import "errors"

var (
	// ErrValidation wraps missing or malformed input.
	ErrValidation = errors.New("validation error")
	// ErrQuestionPoolExhausted is returned when too few questions match the requested tags.
	ErrQuestionPoolExhausted = errors.New("not enough questions for the requested tags")
	// ErrBattleNotFound is returned for unknown battle codes or ids.
	ErrBattleNotFound = errors.New("battle not found")
	// ErrAlreadyFinished is returned when a finished battle is joined or evaluated.
	ErrAlreadyFinished = errors.New("battle already finished")
	// ErrBattleExpired is returned when the battle window has closed.
	ErrBattleExpired = errors.New("battle expired")
	// ErrBattleCodeTaken signals a code collision inside a store; callers retry.
	ErrBattleCodeTaken = errors.New("battle code already in use")
	// ErrUnauthorized is returned when the session is missing or invalid.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUserNotFound indicates the user collaborator has no profile yet.
	ErrUserNotFound = errors.New("user not found")
)

// IsNotJoinable reports whether err means the battle no longer accepts players or answers.
func IsNotJoinable(err error) bool {
	return errors.Is(err, ErrAlreadyFinished) || errors.Is(err, ErrBattleExpired)
}
