package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/Veraticus/the-books-must-balance/internal/common"
)

// ReportWriter exports a report and returns the spreadsheet ID written to.
type ReportWriter interface {
	Write(ctx context.Context, report *Report) (string, error)
}

// backend is the slice of the Sheets API the writer uses.
type backend interface {
	Open(ctx context.Context, id string) error
	Create(ctx context.Context, title, timeZone string) (string, error)
	Clear(ctx context.Context, id string) error
	Update(ctx context.Context, id, cell string, values [][]any) error
	Format(ctx context.Context, id string, headers []int) error
}

// Writer implements ReportWriter for Google Sheets.
type Writer struct {
	api    backend
	logger *slog.Logger
	config Config
}

// NewWriter creates a new Google Sheets report writer.
func NewWriter(ctx context.Context, config Config) (*Writer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	srv, err := createSheetsService(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return newWriter(config, &apiBackend{srv: srv}), nil
}

func newWriter(config Config, api backend) *Writer {
	return &Writer{
		config: config,
		api:    api,
		logger: slog.Default().With("component", "sheets"),
	}
}

// Write clears the target sheet and writes the report into it.
func (w *Writer) Write(ctx context.Context, report *Report) (string, error) {
	if report == nil || report.Session == nil || report.Summary == nil {
		return "", common.NewFieldError("report", "session and summary are required")
	}

	w.logger.Info("starting report export",
		"session_id", report.Session.ID,
		"outstanding", len(report.Summary.OutstandingItems),
		"matches", len(report.Matches))

	backoff := common.Backoff{Attempts: w.config.RetryAttempts, Initial: w.config.RetryDelay, Max: 30 * time.Second}

	spreadsheetID, err := w.getOrCreateSpreadsheet(ctx, report)
	if err != nil {
		return "", fmt.Errorf("failed to get spreadsheet: %w", err)
	}

	if err := w.api.Clear(ctx, spreadsheetID); err != nil {
		return "", fmt.Errorf("failed to clear sheet: %w", err)
	}

	values, headers := report.rows()

	err = backoff.Retry(ctx, "sheets write", func(ctx context.Context) error {
		return w.writeData(ctx, spreadsheetID, values)
	})
	if err != nil {
		return "", fmt.Errorf("failed to write data: %w", err)
	}

	if w.config.EnableFormatting {
		err = backoff.Retry(ctx, "sheets format", func(ctx context.Context) error {
			return w.api.Format(ctx, spreadsheetID, headers)
		})
		if err != nil {
			w.logger.Warn("failed to apply formatting", "error", err)
		}
	}

	w.logger.Info("report export completed",
		"spreadsheet_id", spreadsheetID,
		"rows_written", len(values))

	return spreadsheetID, nil
}

func (w *Writer) getOrCreateSpreadsheet(ctx context.Context, report *Report) (string, error) {
	if w.config.SpreadsheetID != "" {
		if err := w.api.Open(ctx, w.config.SpreadsheetID); err != nil {
			return "", fmt.Errorf("%w: unable to access spreadsheet %s: %w", common.ErrNetwork, w.config.SpreadsheetID, err)
		}
		return w.config.SpreadsheetID, nil
	}

	title := w.config.SpreadsheetName
	if title == "" {
		title = report.Title()
	}
	id, err := w.api.Create(ctx, title, w.config.TimeZone)
	if err != nil {
		return "", fmt.Errorf("%w: unable to create spreadsheet: %w", common.ErrNetwork, err)
	}
	w.logger.Info("created new spreadsheet", "id", id)
	return id, nil
}

// writeData writes in batches to stay under API limits.
func (w *Writer) writeData(ctx context.Context, spreadsheetID string, values [][]any) error {
	for i := 0; i < len(values); i += w.config.BatchSize {
		end := min(i+w.config.BatchSize, len(values))

		if err := w.api.Update(ctx, spreadsheetID, fmt.Sprintf("A%d", i+1), values[i:end]); err != nil {
			return fmt.Errorf("failed to write batch starting at row %d: %w", i+1, err)
		}
		w.logger.Debug("wrote batch", "start_row", i+1, "rows", end-i)
	}
	return nil
}

func createSheetsService(ctx context.Context, config Config) (*sheets.Service, error) {
	var tokenSource oauth2.TokenSource

	if config.ServiceAccountPath != "" {
		jsonKey, err := os.ReadFile(config.ServiceAccountPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read service account key file: %w", err)
		}

		jwtConfig, err := google.JWTConfigFromJSON(jsonKey, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("unable to parse service account key: %w", err)
		}
		tokenSource = jwtConfig.TokenSource(ctx)
	} else {
		oauthConfig := oauthConfig(config.ClientID, config.ClientSecret, "")
		tokenSource = oauthConfig.TokenSource(ctx, &oauth2.Token{
			RefreshToken: config.RefreshToken,
			TokenType:    "Bearer",
		})
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, tokenSource)))
	if err != nil {
		return nil, fmt.Errorf("unable to create sheets service: %w", err)
	}
	return srv, nil
}

// apiBackend talks to the live Sheets API.
type apiBackend struct {
	srv *sheets.Service
}

func (a *apiBackend) Open(ctx context.Context, id string) error {
	_, err := a.srv.Spreadsheets.Get(id).Context(ctx).Do()
	return err
}

func (a *apiBackend) Create(ctx context.Context, title, timeZone string) (string, error) {
	created, err := a.srv.Spreadsheets.Create(&sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{Title: title, TimeZone: timeZone},
		Sheets:     []*sheets.Sheet{{Properties: &sheets.SheetProperties{Title: "Reconciliation"}}},
	}).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return created.SpreadsheetId, nil
}

func (a *apiBackend) Clear(ctx context.Context, id string) error {
	_, err := a.srv.Spreadsheets.Values.Clear(id, "A:Z", &sheets.ClearValuesRequest{}).Context(ctx).Do()
	return err
}

func (a *apiBackend) Update(ctx context.Context, id, cell string, values [][]any) error {
	_, err := a.srv.Spreadsheets.Values.Update(id, cell, &sheets.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	return err
}

func (a *apiBackend) Format(ctx context.Context, id string, headers []int) error {
	_, err := a.srv.Spreadsheets.BatchUpdate(id, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: formatRequests(headers),
	}).Context(ctx).Do()
	return err
}

func boldRow(row int64, size int64) *sheets.Request {
	return &sheets.Request{
		RepeatCell: &sheets.RepeatCellRequest{
			Range: &sheets.GridRange{
				SheetId:          0,
				StartRowIndex:    row,
				EndRowIndex:      row + 1,
				StartColumnIndex: 0,
				EndColumnIndex:   1,
			},
			Cell: &sheets.CellData{
				UserEnteredFormat: &sheets.CellFormat{
					TextFormat: &sheets.TextFormat{Bold: true, FontSize: size},
				},
			},
			Fields: "userEnteredFormat.textFormat",
		},
	}
}

// formatRequests bolds the title and section headers, then sizes columns
// and freezes the title row.
func formatRequests(headers []int) []*sheets.Request {
	requests := make([]*sheets.Request, 0, len(headers)+3)
	requests = append(requests, boldRow(0, 16))
	for _, h := range headers {
		requests = append(requests, boldRow(int64(h), 12))
	}

	requests = append(requests,
		&sheets.Request{
			AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
				Dimensions: &sheets.DimensionRange{
					SheetId:    0,
					Dimension:  "COLUMNS",
					StartIndex: 0,
					EndIndex:   6,
				},
			},
		},
		&sheets.Request{
			UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
				Properties: &sheets.SheetProperties{
					SheetId:        0,
					GridProperties: &sheets.GridProperties{FrozenRowCount: 1},
				},
				Fields: "gridProperties.frozenRowCount",
			},
		},
	)
	return requests
}
