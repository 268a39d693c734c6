package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"
)

// exportCSV renders the report's comment rows as CSV
func exportCSV(data TemplateData) (*Result, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"comment_id", "author", "status", "flags", "created_at", "body"}); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for i, c := range data.Comments {
		row := []string{
			strconv.Itoa(i + 1),
			c.Author,
			c.Status,
			strconv.FormatInt(c.Flags, 10),
			c.CreatedAt.Format(time.RFC3339),
			c.Body,
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}

	return &Result{
		Data:     buf.Bytes(),
		Filename: sanitizeFilename(data.Title) + ".csv",
		MimeType: "text/csv",
	}, nil
}
