package output

import (
	"encoding/csv"
	"encoding/json"
	"strings"

	apperrors "kizuna/internal/platform/errors"

	"kizuna/internal/domain"
)

// Formatter renders command results in the configured OutputFormat.
// Pipeline mode drops decorative chrome: no color, no animation.
type Formatter struct {
	format   domain.OutputFormat
	styles   StyleManager
	table    TableRenderer
	pipeline bool
	compact  bool
}

func NewFormatter(format domain.OutputFormat, styles StyleManager) Formatter {
	return Formatter{format: format, styles: styles, table: NewTableRenderer(styles)}
}

// NewPipelineFormatter returns a formatter for machine consumption: colorless,
// compact JSON, one record per line.
func NewPipelineFormatter(format domain.OutputFormat) Formatter {
	styles := NewStyleManagerForced(domain.ColorNever, false)
	return Formatter{
		format:   format,
		styles:   styles,
		table:    NewTableRenderer(styles),
		pipeline: true,
		compact:  true,
	}
}

func (f Formatter) Format() domain.OutputFormat { return f.format }
func (f Formatter) Styles() StyleManager        { return f.styles }

// Table renders tabular data in the selected format.
func (f Formatter) Table(data domain.TableData) (string, error) {
	switch f.format {
	case domain.FormatJSON:
		return f.tableJSON(data)
	case domain.FormatCSV:
		return tableCSV(data)
	case domain.FormatMinimal:
		return tableMinimal(data), nil
	default:
		if f.pipeline {
			return tableMinimal(data), nil
		}
		return f.table.Render(data), nil
	}
}

// JSON renders an arbitrary value as a JSON document.
func (f Formatter) JSON(v any) (string, error) {
	var (
		raw []byte
		err error
	)
	if f.compact {
		raw, err = json.Marshal(v)
	} else {
		raw, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		return "", apperrors.Format("encode json: " + err.Error())
	}
	return string(raw) + "\n", nil
}

// tableJSON maps rows to an array of objects keyed by header.
func (f Formatter) tableJSON(data domain.TableData) (string, error) {
	records := make([]map[string]string, 0, len(data.Rows))
	for _, row := range data.Rows {
		rec := make(map[string]string, len(data.Headers))
		for i, h := range data.Headers {
			if i < len(row) {
				rec[h] = row[i]
			} else {
				rec[h] = ""
			}
		}
		records = append(records, rec)
	}
	return f.JSON(records)
}

// tableCSV emits RFC 4180 output; encoding/csv quotes fields containing
// commas, quotes or newlines and doubles embedded quotes.
func tableCSV(data domain.TableData) (string, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.Write(data.Headers); err != nil {
		return "", apperrors.Format("write csv header: " + err.Error())
	}
	for _, row := range data.Rows {
		if err := w.Write(row); err != nil {
			return "", apperrors.Format("write csv row: " + err.Error())
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", apperrors.Format("flush csv: " + err.Error())
	}
	return b.String(), nil
}

// tableMinimal is tab-separated with no header row.
func tableMinimal(data domain.TableData) string {
	var b strings.Builder
	for _, row := range data.Rows {
		b.WriteString(strings.Join(row, "\t"))
		b.WriteByte('\n')
	}
	return b.String()
}

// ParseCSV reads emitted CSV back into TableData; the round-trip partner of
// the CSV renderer.
func ParseCSV(s string) (domain.TableData, error) {
	r := csv.NewReader(strings.NewReader(s))
	rows, err := r.ReadAll()
	if err != nil {
		return domain.TableData{}, apperrors.Format("parse csv: " + err.Error())
	}
	if len(rows) == 0 {
		return domain.TableData{}, nil
	}
	return domain.TableData{Headers: rows[0], Rows: rows[1:]}, nil
}
