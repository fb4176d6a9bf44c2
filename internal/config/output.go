package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"

	"github.com/dl-alexandre/cloudsync/internal/types"
	"github.com/dl-alexandre/cloudsync/internal/utils"
)

// OutputFormatter handles output formatting for CLI commands
type OutputFormatter struct {
	format         types.OutputFormat
	quiet          bool
	verbose        bool
	includeTraceID bool
	writer         io.Writer
	errorWriter    io.Writer
	warnings       []types.CLIWarning
}

// OutputOptions configures the output formatter
type OutputOptions struct {
	Format         types.OutputFormat
	Quiet          bool
	Verbose        bool
	IncludeTraceID bool
}

// NewOutputFormatter creates a new output formatter
func NewOutputFormatter(opts OutputOptions) *OutputFormatter {
	return &OutputFormatter{
		format:         opts.Format,
		quiet:          opts.Quiet,
		verbose:        opts.Verbose,
		includeTraceID: opts.IncludeTraceID,
		writer:         os.Stdout,
		errorWriter:    os.Stderr,
		warnings:       []types.CLIWarning{},
	}
}

// AddWarning adds a warning to be included in output
func (f *OutputFormatter) AddWarning(code, message, severity string) {
	f.warnings = append(f.warnings, types.CLIWarning{
		Code:     code,
		Message:  message,
		Severity: severity,
	})
}

// WriteSuccess writes a successful result
func (f *OutputFormatter) WriteSuccess(command string, data interface{}) error {
	traceID := ""
	if f.verbose || f.includeTraceID {
		traceID = uuid.New().String()
	}

	output := types.CLIOutput{
		SchemaVersion: utils.SchemaVersion,
		TraceID:       traceID,
		Command:       command,
		Data:          data,
		Warnings:      f.warnings,
		Errors:        []types.CLIError{},
	}

	switch f.format {
	case types.OutputFormatJSON:
		return f.writeJSON(output)
	case types.OutputFormatTable:
		return f.writeTable(data)
	default:
		return fmt.Errorf("unsupported output format: %s", f.format)
	}
}

// WriteError writes an error result. Errors are always JSON for
// structured parsing.
func (f *OutputFormatter) WriteError(command string, cliErr types.CLIError) error {
	output := types.CLIOutput{
		SchemaVersion: utils.SchemaVersion,
		TraceID:       uuid.New().String(),
		Command:       command,
		Data:          nil,
		Warnings:      f.warnings,
		Errors:        []types.CLIError{cliErr},
	}
	return f.writeJSON(output)
}

func (f *OutputFormatter) writeJSON(data interface{}) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func (f *OutputFormatter) writeTable(data interface{}) error {
	if len(f.warnings) > 0 && !f.quiet {
		for _, warning := range f.warnings {
			if _, err := fmt.Fprintf(f.errorWriter, "Warning [%s]: %s\n", warning.Code, warning.Message); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(f.errorWriter); err != nil {
			return err
		}
	}

	if renderable, ok := data.(types.TableRenderable); ok {
		return f.renderTable(renderable.AsTableRenderer())
	}
	if renderer, ok := data.(types.TableRenderer); ok {
		return f.renderTable(renderer)
	}
	if kv, ok := data.(map[string]interface{}); ok {
		return f.writeKeyValueTable(kv)
	}

	// Fallback to JSON for unknown types.
	return f.writeJSON(types.CLIOutput{
		SchemaVersion: utils.SchemaVersion,
		Command:       "unknown",
		Data:          data,
		Warnings:      f.warnings,
		Errors:        []types.CLIError{},
	})
}

func (f *OutputFormatter) renderTable(renderer types.TableRenderer) error {
	rows := renderer.Rows()
	if len(rows) == 0 {
		if !f.quiet {
			if _, err := fmt.Fprintln(f.writer, renderer.EmptyMessage()); err != nil {
				return err
			}
		}
		return nil
	}

	table := tablewriter.NewWriter(f.writer)
	table.SetHeader(renderer.Headers())
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)

	for _, row := range rows {
		table.Append(row)
	}

	table.Render()
	return nil
}

// writeKeyValueTable renders a generic map sorted by key
func (f *OutputFormatter) writeKeyValueTable(kv map[string]interface{}) error {
	keys := make([]string, 0, len(kv))
	for key := range kv {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	table := tablewriter.NewWriter(f.writer)
	table.SetHeader([]string{"Key", "Value"})
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)

	for _, key := range keys {
		table.Append([]string{key, fmt.Sprint(kv[key])})
	}

	table.Render()
	return nil
}

// Log writes to stderr unless quiet
func (f *OutputFormatter) Log(format string, args ...interface{}) {
	if !f.quiet {
		fmt.Fprintf(f.errorWriter, format+"\n", args...)
	}
}

// Verbose writes to stderr when verbose is enabled
func (f *OutputFormatter) Verbose(format string, args ...interface{}) {
	if f.verbose {
		fmt.Fprintf(f.errorWriter, "[VERBOSE] "+format+"\n", args...)
	}
}

// TruncateString shortens a string for table cells
func TruncateString(s string, max int) string {
	if len(s) <= max || max <= 3 {
		return s
	}
	return s[:max-3] + "..."
}
