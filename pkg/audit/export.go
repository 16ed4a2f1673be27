package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Export encodes decisions in the requested format. Unknown formats fall
// back to JSON.
func Export(decisions []Decision, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatCSV:
		return exportCSV(decisions)
	case ExportFormatNDJSON:
		return exportNDJSON(decisions)
	default:
		return json.MarshalIndent(decisions, "", "  ")
	}
}

func exportNDJSON(decisions []Decision) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range decisions {
		if err := enc.Encode(d); err != nil {
			return nil, fmt.Errorf("failed to encode decision: %w", err)
		}
	}
	return buf.Bytes(), nil
}

var csvHeader = []string{
	"id", "timestamp", "connection_id", "subject_id", "kind", "stage",
	"policy", "resource", "outcome", "reason", "admin_interest",
}

func exportCSV(decisions []Decision) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, d := range decisions {
		row := []string{
			d.ID,
			d.Timestamp.UTC().Format(time.RFC3339Nano),
			d.ConnectionID,
			d.Subject(),
			string(d.Kind),
			d.Stage,
			d.Policy,
			d.Resource,
			string(d.Outcome),
			d.Reason,
			strconv.FormatBool(d.AdminInterest),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}
