package pdf

import (
	"bytes"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jung-kurt/gofpdf"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/nkiryanov/kglow/internal/models"
)

const (
	regularFontFile = "DejaVuSans.ttf"
	boldFontFile    = "DejaVuSans-Bold.ttf"
)

// Generator renders a saved quote as a commercial offer
// Without fontDir the core Helvetica font is used and non Latin-1 characters are replaced
type Generator struct {
	fontDir string
	printer *message.Printer
	now     func() time.Time
}

func New(fontDir string) *Generator {
	return &Generator{
		fontDir: fontDir,
		printer: message.NewPrinter(language.English),
		now:     time.Now,
	}
}

func (g *Generator) Generate(q models.Quote) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("K-Glow commercial offer", true)

	family := "Helvetica"
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	if g.fontDir != "" {
		family = "DejaVu"
		pdf.AddUTF8Font(family, "", filepath.Join(g.fontDir, regularFontFile))
		pdf.AddUTF8Font(family, "B", filepath.Join(g.fontDir, boldFontFile))
		tr = func(s string) string { return s }
	}
	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("can't load fonts: %w", err)
	}
	pdf.AddPage()

	pdf.SetFont(family, "B", 16)
	pdf.Cell(0, 10, "Commercial offer")
	pdf.Ln(8)

	pdf.SetFont(family, "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Quote %s from %s", q.ID, q.CreatedAt.Format("02.01.2006")))
	pdf.Ln(6)
	route := q.Shipping.Origin + " - " + q.Shipping.Destination
	if q.Shipping.Origin == "" && q.Shipping.Destination == "" {
		route = "-"
	}
	pdf.Cell(0, 6, tr(fmt.Sprintf("Shipping: %s, route %s", q.Shipping.Method, route)))
	pdf.Ln(10)

	pdf.SetFont(family, "B", 10)
	pdf.Cell(100, 7, "Product")
	pdf.CellFormat(20, 7, "Qty", "", 0, "R", false, 0, "")
	pdf.CellFormat(35, 7, "Price, KRW", "", 0, "R", false, 0, "")
	pdf.CellFormat(35, 7, "Amount, KRW", "", 0, "R", false, 0, "")
	pdf.Ln(8)

	pdf.SetFont(family, "", 10)
	for _, line := range q.Result.Breakdown.Lines {
		pdf.Cell(100, 6, tr(trim(line.Name, 55)))
		pdf.CellFormat(20, 6, g.amount(line.Quantity), "", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, g.amount(line.UnitPrice), "", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, g.amount(line.LineTotal), "", 0, "R", false, 0, "")
		pdf.Ln(6)
	}
	pdf.Ln(4)

	res := q.Result
	rows := []struct {
		label string
		value int64
	}{
		{"Subtotal", res.Subtotal},
		{fmt.Sprintf("Shipping (%s, by %s)", res.Breakdown.Shipping.Method, res.Breakdown.Shipping.Basis), res.ShippingCost},
		{fmt.Sprintf("Customs duty %s%%", res.Breakdown.Customs.Rate.Shift(2).String()), res.CustomsDuty},
		{fmt.Sprintf("VAT %s%%", res.Breakdown.VAT.Rate.Shift(2).String()), res.VAT},
		{fmt.Sprintf("Certification %s x %d", res.Breakdown.Certification.Type, res.Breakdown.Certification.ProductCount), res.CertificationCost},
	}
	for _, r := range rows {
		pdf.Cell(155, 6, r.label)
		pdf.CellFormat(35, 6, g.amount(r.value), "", 0, "R", false, 0, "")
		pdf.Ln(6)
	}

	pdf.Ln(2)
	pdf.SetFont(family, "B", 11)
	pdf.Cell(155, 7, "Total, KRW")
	pdf.CellFormat(35, 7, g.amount(res.TotalKRW), "", 0, "R", false, 0, "")
	pdf.Ln(7)
	pdf.Cell(155, 7, fmt.Sprintf("Total, RUB (rate %s)", res.ExchangeRate.String()))
	pdf.CellFormat(35, 7, g.amount(res.TotalRUB), "", 0, "R", false, 0, "")
	pdf.Ln(10)

	pdf.SetFont(family, "", 8)
	pdf.Cell(0, 5, "K-Glow. Korean cosmetics for Russia and CIS")
	pdf.Ln(5)
	pdf.Cell(0, 5, fmt.Sprintf("Generated: %s", g.now().Format(time.RFC3339)))

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("can't render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// 166140 -> 166,140
func (g *Generator) amount(v int64) string {
	return g.printer.Sprintf("%d", v)
}

func trim(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "..."
}
