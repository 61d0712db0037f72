package store

import "errors"

var (
	ErrOfficeNotFound   = errors.New("office not found")
	ErrWindowNotFound   = errors.New("window not found")
	ErrPriorityNotFound = errors.New("priority type not found")
	ErrStatusNotFound   = errors.New("no status type for bucket")
	ErrSequenceNotFound = errors.New("sequence not found")
	ErrNoSequence       = errors.New("no sequence available")
	ErrInvalidState     = errors.New("invalid sequence state")
	ErrWindowBusy       = errors.New("window already serving")
)
