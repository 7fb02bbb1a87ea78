package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/victornm/quizmaster/internal/domain"
)

const csvTimeLayout = "02/01/2006 15:04"

var csvHeader = []string{"Quiz Title", "Subject", "Chapter", "Score (%)", "Status", "Time Limit (min)", "Pass Percentage", "Date/Time"}

// WriteCSV writes one row per attempt. withUser prepends the user name and email columns.
func WriteCSV(w io.Writer, attempts []domain.AttemptSummary, withUser bool) error {
	cw := csv.NewWriter(w)

	header := csvHeader
	if withUser {
		header = append([]string{"User Name", "User Email"}, csvHeader...)
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("report: write header: %w", err)
	}

	for _, a := range attempts {
		score := "N/A"
		if a.Score != nil {
			score = strconv.FormatFloat(*a.Score, 'f', 1, 64)
		}

		limit := "No limit"
		if a.TimeLimit != nil {
			limit = strconv.Itoa(*a.TimeLimit)
		}

		row := []string{
			a.QuizTitle,
			a.SubjectName,
			a.ChapterName,
			score,
			string(a.Status()),
			limit,
			fmt.Sprintf("%v%%", a.PassPercentage),
			a.DateTaken.Format(csvTimeLayout),
		}
		if withUser {
			row = append([]string{a.UserName, a.UserEmail}, row...)
		}

		if err := cw.Write(row); err != nil {
			return fmt.Errorf("report: write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

type ExportRecord struct {
	UserName       string               `json:"user_name"`
	UserEmail      string               `json:"user_email"`
	QuizTitle      string               `json:"quiz_title"`
	Subject        string               `json:"subject"`
	Chapter        string               `json:"chapter"`
	Score          *float64             `json:"score"`
	Status         domain.AttemptStatus `json:"status"`
	TimeLimit      *int                 `json:"time_limit"`
	PassPercentage float64              `json:"pass_percentage"`
	DateTaken      time.Time            `json:"date_taken"`
}

func WriteJSON(w io.Writer, attempts []domain.AttemptSummary) error {
	records := make([]ExportRecord, 0, len(attempts))
	for _, a := range attempts {
		records = append(records, ExportRecord{
			UserName:       a.UserName,
			UserEmail:      a.UserEmail,
			QuizTitle:      a.QuizTitle,
			Subject:        a.SubjectName,
			Chapter:        a.ChapterName,
			Score:          a.Score,
			Status:         a.Status(),
			TimeLimit:      a.TimeLimit,
			PassPercentage: a.PassPercentage,
			DateTaken:      a.DateTaken,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// Filename names an export generated at t.
func Filename(prefix, format string, t time.Time) string {
	return fmt.Sprintf("%s_%s.%s", prefix, t.Format("20060102_150405"), format)
}
