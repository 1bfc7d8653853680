package models

import (
	"errors"
	"strings"
)

var ErrEmptyKey = errors.New("record key is empty")

// Record is one key/value pair to be written.
type Record struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (r Record) Validate() error {
	if strings.TrimSpace(r.Key) == "" {
		return ErrEmptyKey
	}
	return nil
}
