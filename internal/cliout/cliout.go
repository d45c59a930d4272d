// Package cliout shapes command results for both humans and machines.
// Every command produces one Result; --json prints it verbatim, the
// default prints a rendered table plus the message.
package cliout

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/arclabs561/runctl/types"
)

// Exit codes.
const (
	ExitOK         = 0
	ExitValidation = 1
	ExitPartial    = 2
	ExitFatal      = 3
)

// Result is the envelope every command emits.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`

	// exit is carried out-of-band; not part of the serialized envelope.
	exit int
}

// OK builds a successful result.
func OK(data any, message string) *Result {
	return &Result{Success: true, Data: data, Message: message, exit: ExitOK}
}

// Partial builds a successful-but-degraded result (exit 2).
func Partial(data any, message string) *Result {
	return &Result{Success: true, Data: data, Message: message, exit: ExitPartial}
}

// Fail builds a failed result from an error, mapping the error class
// to an exit code.
func Fail(err error) *Result {
	return &Result{Success: false, Message: err.Error(), exit: ExitCode(err)}
}

// ExitCode maps an error to the command exit code. State conflicts are
// caller decisions (re-plan, resume a different job), so they share the
// validation exit rather than the fatal one.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case types.IsValidation(err):
		return ExitValidation
	case types.IsStateConflict(err):
		return ExitValidation
	case types.IsFatal(err):
		return ExitFatal
	default:
		return ExitFatal
	}
}

// Exit returns the result's exit code.
func (r *Result) Exit() int {
	return r.exit
}

// WriteJSON serializes the envelope.
func (r *Result) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteText prints the message, preceded by a table when the payload
// implements Tabular.
func (r *Result) WriteText(w io.Writer) error {
	if t, ok := r.Data.(Tabular); ok {
		table := tablewriter.NewWriter(w)
		table.Header(t.Headers())
		for _, row := range t.Rows() {
			if err := table.Append(row); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}
	}
	if r.Message != "" {
		if _, err := fmt.Fprintln(w, r.Message); err != nil {
			return err
		}
	}
	return nil
}

// Tabular payloads know how to render themselves as a table.
type Tabular interface {
	Headers() []string
	Rows() [][]string
}
