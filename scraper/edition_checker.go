// scraper/edition_checker.go
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/gewnthar/encwind/models"
	"github.com/gewnthar/encwind/utils"
)

// EditionChecker reads chart edition info from the NOAA ENC catalog page.
type EditionChecker struct {
	Client      *http.Client
	PageURL     string
	RowSelector string // selects the table rows, e.g. "table tr"
	Logger      *slog.Logger
}

// column positions resolved from the header row
type editionColumns struct {
	edition, update, date int
}

// CheckEditions fetches the catalog page once and returns edition info keyed
// by cell name for each chart found on it.
func (c *EditionChecker) CheckEditions(ctx context.Context, charts []string) (map[string]models.ChartEdition, error) {
	c.Logger.Info("Checking chart editions", "page", c.PageURL, "charts", len(charts))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.PageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", c.PageURL, err)
	}
	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get URL %s: %w", c.PageURL, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get URL %s: status code %d", c.PageURL, res.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML from %s: %w", c.PageURL, err)
	}
	return c.parse(doc, charts), nil
}

func (c *EditionChecker) parse(doc *goquery.Document, charts []string) map[string]models.ChartEdition {
	wanted := make(map[string]bool, len(charts))
	for _, ch := range charts {
		wanted[utils.CellName(ch)] = true
	}

	selector := c.RowSelector
	if selector == "" {
		selector = "table tr"
	}
	cols := editionColumns{edition: 1, update: 2, date: 3}
	now := time.Now().UTC()
	found := make(map[string]models.ChartEdition)

	doc.Find(selector).Each(func(i int, row *goquery.Selection) {
		if headers := row.Find("th"); headers.Length() > 0 {
			cols = headerColumns(headers, cols)
			return
		}
		cells := row.Find("td").Map(func(_ int, s *goquery.Selection) string {
			return strings.TrimSpace(s.Text())
		})
		if len(cells) == 0 {
			return
		}
		cell := strings.ToUpper(cells[0])
		if !wanted[cell] {
			return
		}
		found[cell] = models.ChartEdition{
			CellName:   cell,
			Edition:    at(cells, cols.edition),
			Update:     at(cells, cols.update),
			UpdateDate: at(cells, cols.date),
			RawRow:     strings.Join(cells, " | "),
			CheckedAt:  now,
		}
	})

	for cell := range wanted {
		if ed, ok := found[cell]; ok {
			c.Logger.Info("Chart edition", "chart", cell, "edition", ed.Edition, "update", ed.Update, "update_date", ed.UpdateDate)
		} else {
			c.Logger.Warn("Chart not listed on catalog page", "chart", cell)
		}
	}
	return found
}

// headerColumns matches whole header words so that "Update" is not read as
// a date and "Update Application Date" is.
func headerColumns(headers *goquery.Selection, cols editionColumns) editionColumns {
	headers.Each(func(i int, h *goquery.Selection) {
		words := strings.Fields(strings.ToLower(h.Text()))
		switch {
		case slices.Contains(words, "date"):
			cols.date = i
		case slices.Contains(words, "edition"):
			cols.edition = i
		case slices.Contains(words, "update"):
			cols.update = i
		}
	})
	return cols
}

func at(cells []string, i int) string {
	if i < 0 || i >= len(cells) {
		return ""
	}
	return cells[i]
}
