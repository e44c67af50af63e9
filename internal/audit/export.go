package audit

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{"ID", "Created At", "Actor ID", "Actor", "Module", "Action", "Target Type", "Target ID", "Summary", "IP", "User Agent"}

// WriteCSV serialises entries. Snapshots are left out of the export.
func WriteCSV(w io.Writer, entries []Entry) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		actorID := ""
		if e.ActorID != nil {
			actorID = strconv.FormatInt(*e.ActorID, 10)
		}
		record := []string{
			strconv.FormatInt(e.ID, 10),
			e.CreatedAt.UTC().Format(time.RFC3339),
			actorID,
			e.ActorName,
			e.Module,
			e.Action,
			e.TargetType,
			e.TargetID,
			e.Summary,
			e.IP,
			e.UserAgent,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
