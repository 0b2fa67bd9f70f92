package sheet

import (
	"fmt"
	"strings"
)

// FormatError means no row of the input looked like a header row.
type FormatError struct {
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e == nil {
		return "sheet: format error"
	}
	msg := "sheet: format error: " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ColumnMappingError means a header row was found but a mandatory column is missing.
type ColumnMappingError struct {
	Column string
	Header []string
}

func (e *ColumnMappingError) Error() string {
	if e == nil {
		return "sheet: column mapping error"
	}
	return fmt.Sprintf("sheet: missing required column %q (header: %s)", e.Column, strings.Join(e.Header, ", "))
}

// SourceUnavailableError means the input source could not be fetched.
// It is distinct from parse errors so callers can retry the fetch.
type SourceUnavailableError struct {
	Locator    string
	StatusCode int
	Reason     string
	Err        error
}

func (e *SourceUnavailableError) Error() string {
	if e == nil {
		return "sheet: source unavailable"
	}
	parts := []string{"sheet: source unavailable"}
	if e.Locator != "" {
		parts = append(parts, "locator="+e.Locator)
	}
	if e.StatusCode != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if e.Reason != "" {
		parts = append(parts, "reason="+e.Reason)
	}
	if e.Err != nil {
		parts = append(parts, "err="+e.Err.Error())
	}
	return strings.Join(parts, " ")
}

func (e *SourceUnavailableError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
