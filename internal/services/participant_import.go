package services

import (
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/google/logger"

	"raffle/internal/apperr"
	"raffle/internal/models"
)

// ParseParticipantsCSV reads a participant list with a header row.
//
// The name and username columns are required; id and "profile pic" (or
// profilepic) are optional. Rows without a name or username are skipped. A
// missing id falls back to the row's 1-based position among the data rows, or
// the next free number when another row already uses that id.
func ParseParticipantsCSV(r io.Reader) ([]models.Participant, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, apperr.NewInvalidArgument("CSV file is empty", "file", "")
	}
	if err != nil {
		return nil, apperr.NewInvalidArgument("error reading CSV header", "file", "").WithCause(err)
	}

	columns := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, exists := columns[name]; !exists {
			columns[name] = i
		}
	}

	nameCol, hasName := columns["name"]
	usernameCol, hasUsername := columns["username"]
	if !hasName || !hasUsername {
		return nil, apperr.NewInvalidArgument("CSV must have name and username columns", "header", strings.Join(header, ","))
	}
	idCol, hasID := columns["id"]
	picCol, hasPic := columns["profile pic"]
	if !hasPic {
		picCol, hasPic = columns["profilepic"]
	}

	field := func(record []string, col int) string {
		if col < len(record) {
			return strings.TrimSpace(record[col])
		}
		return ""
	}

	var (
		participants []models.Participant
		rows         []int
	)
	for row := 1; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperr.NewInvalidArgument("error reading CSV", "row", row).WithCause(err)
		}

		p := models.Participant{
			Name:     field(record, nameCol),
			Username: field(record, usernameCol),
		}
		if p.Name == "" || p.Username == "" {
			logger.Infof("Skipping participant CSV row %d without name or username: %v", row, record)
			continue
		}
		if hasID {
			p.ID = field(record, idCol)
		}
		if hasPic {
			p.ProfilePic = field(record, picCol)
		}
		participants = append(participants, p)
		rows = append(rows, row)
	}

	fillMissingIDs(participants, rows)
	return participants, nil
}

// fillMissingIDs gives every participant without an id the number at the same
// index of preferred, moving up to the next number not already in use.
func fillMissingIDs(participants []models.Participant, preferred []int) {
	taken := make(map[string]struct{}, len(participants))
	for _, p := range participants {
		if p.ID != "" {
			taken[p.ID] = struct{}{}
		}
	}
	for i := range participants {
		if participants[i].ID != "" {
			continue
		}
		n := preferred[i]
		for {
			if _, used := taken[strconv.Itoa(n)]; !used {
				break
			}
			n++
		}
		participants[i].ID = strconv.Itoa(n)
		taken[participants[i].ID] = struct{}{}
	}
}
