package portfolio

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	apperrors "investor-intelligence/internal/errors"
	"investor-intelligence/internal/models"
)

// ErrNoPortfolio is returned when no portfolio exists for an owner.
var ErrNoPortfolio = errors.New("no portfolio for owner")

// holdingRow mirrors one row of the sheet's CSV export. The sheet
// collaborator exports columns Symbol, Quantity, Purchase Price,
// Purchase Date (ISO date).
type holdingRow struct {
	Symbol        string  `csv:"symbol"`
	Quantity      float64 `csv:"quantity"`
	PurchasePrice float64 `csv:"purchase_price"`
	PurchaseDate  string  `csv:"purchase_date"`
}

// CSVSource loads portfolios from CSV exports of the owner's sheet.
// sourceRef is the path to the exported file.
type CSVSource struct {
	portfolioName string
}

// NewCSVSource creates a CSV-backed portfolio source.
func NewCSVSource(portfolioName string) *CSVSource {
	if portfolioName == "" {
		portfolioName = "Main Portfolio"
	}
	return &CSVSource{portfolioName: portfolioName}
}

// Load implements Source. A missing or unreadable file maps to
// ErrSourceUnavailable; a file without the required columns maps to
// ErrSchemaMismatch. Either aborts the owner's cycle.
func (s *CSVSource) Load(ctx context.Context, ownerID, sourceRef string) (*models.Portfolio, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(sourceRef)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrSourceUnavailable, "opening %s", sourceRef)
	}
	defer f.Close()

	var rows []holdingRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrSchemaMismatch, err.Error())
	}

	holdings := make([]models.Holding, 0, len(rows))
	for _, row := range rows {
		symbol := strings.ToUpper(strings.TrimSpace(row.Symbol))
		if symbol == "" {
			return nil, apperrors.Wrap(apperrors.ErrSchemaMismatch, "row with empty symbol")
		}
		if row.Quantity <= 0 {
			return nil, apperrors.Wrapf(apperrors.ErrSchemaMismatch, "non-positive quantity for %s", symbol)
		}

		var purchaseDate time.Time
		if row.PurchaseDate != "" {
			purchaseDate, err = time.Parse("2006-01-02", row.PurchaseDate)
			if err != nil {
				return nil, apperrors.Wrapf(apperrors.ErrSchemaMismatch, "bad purchase date for %s: %s", symbol, row.PurchaseDate)
			}
		}

		holdings = append(holdings, models.Holding{
			Symbol:        symbol,
			Quantity:      row.Quantity,
			PurchasePrice: row.PurchasePrice,
			PurchaseDate:  purchaseDate,
		})
	}

	return &models.Portfolio{
		OwnerID:  ownerID,
		Name:     s.portfolioName,
		Holdings: holdings,
		SyncedAt: time.Now(),
	}, nil
}
