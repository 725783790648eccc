package domain

// OutputFormat selects the renderer for command results.
type OutputFormat string

const (
	FormatTable   OutputFormat = "table"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
	FormatMinimal OutputFormat = "minimal"
)

// ParseOutputFormat maps a user token to an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, bool) {
	switch s {
	case "table", "":
		return FormatTable, true
	case "json":
		return FormatJSON, true
	case "csv":
		return FormatCSV, true
	case "minimal":
		return FormatMinimal, true
	}
	return FormatTable, false
}

// ColorMode governs ANSI styling on stdout.
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

func ParseColorMode(s string) (ColorMode, bool) {
	switch s {
	case "auto", "":
		return ColorAuto, true
	case "always":
		return ColorAlways, true
	case "never":
		return ColorNever, true
	}
	return ColorAuto, false
}

// TableData is the renderer-independent tabular result of a command.
type TableData struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// StreamQuality presets accepted by the streaming pipeline.
var StreamQualities = []string{"low", "medium", "high", "ultra"}

func ValidStreamQuality(q string) bool {
	for _, v := range StreamQualities {
		if q == v {
			return true
		}
	}
	return false
}
