package services

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/alimgiray/gitalizer/internal/repositories"
	"github.com/alimgiray/gitalizer/pkg/logger"
)

const exportSheet = "Commits"

var exportHeader = []interface{}{
	"SHA", "Repository", "Author Email", "Committer Email",
	"Created", "Created Offset", "Committed", "Committed Offset",
	"Additions", "Deletions",
}

// ExportService writes a contributor's commits to a spreadsheet
type ExportService struct {
	commits      *repositories.CommitRepository
	contributors *repositories.ContributorRepository
}

func NewExportService(commits *repositories.CommitRepository, contributors *repositories.ContributorRepository) *ExportService {
	return &ExportService{
		commits:      commits,
		contributors: contributors,
	}
}

// ExportContributor writes one row per commit authored by login, oldest
// first, and returns the number of commits written. Times are in the
// author's and committer's own timezones.
func (s *ExportService) ExportContributor(ctx context.Context, login string, w io.Writer) (int, error) {
	if _, err := s.contributors.GetByLogin(ctx, login); err != nil {
		return 0, fmt.Errorf("contributor %s: %w", login, err)
	}
	commits, err := s.commits.ListByContributor(ctx, login)
	if err != nil {
		return 0, fmt.Errorf("failed to list commits: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return 0, err
	}

	sw, err := f.NewStreamWriter(exportSheet)
	if err != nil {
		return 0, err
	}
	if err := sw.SetRow("A1", exportHeader); err != nil {
		return 0, err
	}

	for i, entry := range commits {
		c := entry.Commit
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return 0, err
		}
		row := []interface{}{
			c.SHA,
			entry.Repository,
			c.AuthorEmail,
			c.CommitterEmail,
			c.LocalCreationTime().Format(time.RFC3339),
			c.CreationTimeOffset,
			c.LocalCommitTime().Format(time.RFC3339),
			c.CommitTimeOffset,
			optionalInt(c.Additions),
			optionalInt(c.Deletions),
		}
		if err := sw.SetRow(cell, row); err != nil {
			return 0, err
		}
	}
	if err := sw.Flush(); err != nil {
		return 0, err
	}

	if _, err := f.WriteTo(w); err != nil {
		return 0, fmt.Errorf("failed to write spreadsheet: %w", err)
	}
	logger.WithField("contributor", login).Infof("Exported %d commits", len(commits))
	return len(commits), nil
}

func optionalInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
