package types

// OutputFormat selects how CLI results are rendered
type OutputFormat string

const (
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatTable OutputFormat = "table"
)

// GlobalFlags holds flags shared by every command
type GlobalFlags struct {
	OutputFormat OutputFormat
	Quiet        bool
	Verbose      bool
	Debug        bool
	JSON         bool
	DataDir      string
	Config       string
	LogFile      string
}

// CLIError is a structured error in command output
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// CLIWarning is a non-fatal notice in command output
type CLIWarning struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// CLIOutput is the stable JSON envelope every command emits
type CLIOutput struct {
	SchemaVersion string       `json:"schema_version"`
	TraceID       string       `json:"trace_id,omitempty"`
	Command       string       `json:"command"`
	Data          interface{}  `json:"data"`
	Warnings      []CLIWarning `json:"warnings"`
	Errors        []CLIError   `json:"errors"`
}

// TableRenderer renders a result as rows for table output
type TableRenderer interface {
	Headers() []string
	Rows() [][]string
	EmptyMessage() string
}

// TableRenderable adapts a result type to a TableRenderer
type TableRenderable interface {
	AsTableRenderer() TableRenderer
}

// Table is a ready-made TableRenderer value
type Table struct {
	Header []string
	Body   [][]string
	Empty  string
}

func (t Table) Headers() []string    { return t.Header }
func (t Table) Rows() [][]string     { return t.Body }
func (t Table) EmptyMessage() string { return t.Empty }
