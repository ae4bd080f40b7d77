package export

import "github.com/quarryline/quarryline/report"

const mmPerInch = 25.4

// Layout is the printed page geometry in millimetres.
type Layout struct {
	PageWidthMM  float64
	PageHeightMM float64
	MarginMM     float64
	RowsPerPage  int
}

// LetterLayout is US letter with 12.7mm margins.
func LetterLayout(rowsPerPage int) Layout {
	return Layout{PageWidthMM: 215.9, PageHeightMM: 279.4, MarginMM: 12.7, RowsPerPage: rowsPerPage}
}

// Paper converts the layout for the PDF converter.
func (l Layout) Paper() report.Paper {
	return report.Paper{
		Width:  l.PageWidthMM / mmPerInch,
		Height: l.PageHeightMM / mmPerInch,
		Margin: l.MarginMM / mmPerInch,
	}
}

// Paginate splits rows into pages of at most perPage rows. There is always at
// least one page so the summary and confirmation blocks have a home.
func Paginate(rows []Row, perPage int) []Page {
	if perPage <= 0 {
		perPage = DefaultRowsPerPage
	}
	total := (len(rows) + perPage - 1) / perPage
	if total == 0 {
		total = 1
	}
	pages := make([]Page, 0, total)
	for n := 0; n < total; n++ {
		start := n * perPage
		end := min(start+perPage, len(rows))
		page := Page{Number: n + 1, Total: total}
		if start < end {
			page.Rows = rows[start:end]
		}
		pages = append(pages, page)
	}
	return pages
}
