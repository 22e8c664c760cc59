package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrProjectNotFound   = errors.New("project not found")
	ErrEntityNotFound    = errors.New("entity not found")
	ErrCharacterNotFound = errors.New("character not found")
	ErrInvalidPrompt     = errors.New("invalid prompt")
)
