package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	applog "octopus/internal/log"
	ports "octopus/internal/sheets"
)

// lastColumn is the column letter of the final Header cell.
const lastColumn = "I"

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	logger        *applog.Logger
}

// Config selects the spreadsheet and the service-account credentials.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
}

// Ensure interface conformance
var (
	_ ports.SummaryWriter = (*Client)(nil)
	_ ports.SummaryLister = (*Client)(nil)
)

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, cfg Config, logger *applog.Logger) (*Client, error) {
	creds, err := loadCredentials(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithOptions(ctx, cfg, logger,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
}

// NewWithOptions creates a client with explicit API options, such as a
// custom endpoint.
func NewWithOptions(ctx context.Context, cfg Config, logger *applog.Logger, opts ...goption.ClientOption) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet ID")
	}
	sheetName := strings.TrimSpace(cfg.SheetName)
	if sheetName == "" {
		sheetName = "Summary"
	}
	if logger == nil {
		logger = applog.Nop()
	}

	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	logger.InfoContext(ctx, "Google Sheets service created", "spreadsheet_id", cfg.SpreadsheetID, "sheet", sheetName)

	return &Client{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     sheetName,
		logger:        logger,
	}, nil
}

func loadCredentials(cfg Config) ([]byte, error) {
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		return []byte(cfg.CredentialsJSON), nil
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		b, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
	}
}

// AppendSummary writes row to the summary sheet. The row for an already
// exported period is overwritten in place.
func (c *Client) AppendSummary(ctx context.Context, row ports.SummaryRow) (string, error) {
	if err := row.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	rng := fmt.Sprintf("%s!A:A", c.sheetName)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rng, err)
	}

	if len(resp.Values) == 0 {
		if err := c.writeRow(ctx, 1, ports.Header); err != nil {
			return "", fmt.Errorf("write header: %w", err)
		}
		resp.Values = [][]any{ports.Header[:1]}
	}

	target, found := findPeriodRow(resp.Values, row.Period)
	if !found {
		target = len(resp.Values) + 1
	}
	if err := c.writeRow(ctx, target, row.Values()); err != nil {
		return "", err
	}

	ref := rowRef(c.sheetName, target)
	c.logger.InfoContext(ctx, "Summary exported",
		"period", row.Period, "replaced", found, applog.FieldSheetsRef, ref)
	return ref, nil
}

func (c *Client) writeRow(ctx context.Context, n int, values []any) error {
	rng := rowRef(c.sheetName, n)
	vr := &gsheet.ValueRange{Values: [][]any{values}}
	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update %s: %w", rng, err)
	}
	return nil
}

// ListSummaries reads every exported row below the header.
func (c *Client) ListSummaries(ctx context.Context) ([]ports.SummaryRow, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	rng := fmt.Sprintf("%s!A2:%s", c.sheetName, lastColumn)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}

	out := make([]ports.SummaryRow, 0, len(resp.Values))
	for i, cells := range resp.Values {
		row, err := parseRow(cells)
		if err != nil {
			c.logger.WarnContext(ctx, "Skipping unreadable summary row", "row", i+2, applog.FieldError, err)
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func rowRef(sheet string, n int) string {
	return fmt.Sprintf("%s!A%d:%s%d", sheet, n, lastColumn, n)
}
