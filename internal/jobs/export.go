package jobs

import (
	"bytes"
	"context"
	"fmt"

	"github.com/victornm/quizmaster/internal/domain"
	"github.com/victornm/quizmaster/internal/report"
	"github.com/victornm/quizmaster/internal/store"
)

const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

type Export struct {
	Format   string `json:"format"`
	Filename string `json:"filename"`
	Data     string `json:"data"`
}

// GeneratePerformanceReport exports the attempts of the selected users, newest first per user.
func (j *Jobs) GeneratePerformanceReport(ctx context.Context, args PerformanceReportArgs) Result {
	format := args.Format
	if format == "" {
		format = FormatCSV
	}
	if format != FormatCSV && format != FormatJSON {
		return Result{Status: StatusError, Message: "Unsupported format"}
	}

	users, err := j.store.ListUsers(ctx, store.UserFilter{IDs: args.UserIDs, NonAdminOnly: len(args.UserIDs) == 0})
	if err != nil {
		return failed(err)
	}
	if len(users) == 0 {
		return Result{Status: StatusError, Message: "No users found"}
	}

	var all []domain.AttemptSummary
	for _, u := range users {
		attempts, err := j.store.ListAttempts(ctx, store.AttemptFilter{UserID: u.ID})
		if err != nil {
			return failed(err)
		}
		all = append(all, attempts...)
	}

	var buf bytes.Buffer
	switch format {
	case FormatCSV:
		err = report.WriteCSV(&buf, all, true)
	case FormatJSON:
		err = report.WriteJSON(&buf, all)
	}
	if err != nil {
		return failed(fmt.Errorf("render %s: %w", format, err))
	}

	return Result{
		Status: StatusSuccess,
		Count:  len(all),
		Export: &Export{
			Format:   format,
			Filename: report.Filename("performance_report", format, j.now()),
			Data:     buf.String(),
		},
	}
}
