package stats

import (
	"bytes"
	"fmt"
	"image/color"
	"math"
	"sort"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/samber/lo"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"wbcscan/internal/dto"
	"wbcscan/internal/service/annotate"
)

const chartTitle = "WBC class counts"

// table pivots rows into sorted class and batch axes and a count lookup.
func table(rows []dto.ClassCount) (classes, batches []string, counts map[[2]string]int) {
	counts = make(map[[2]string]int, len(rows))
	for _, r := range rows {
		counts[[2]string{r.ClassName, r.BatchName}] += r.Count
	}
	classes = lo.Uniq(lo.Map(rows, func(r dto.ClassCount, _ int) string { return r.ClassName }))
	batches = lo.Uniq(lo.Map(rows, func(r dto.ClassCount, _ int) string { return r.BatchName }))
	sort.Strings(classes)
	sort.Strings(batches)
	return classes, batches, counts
}

// BarChart renders grouped bars: one group per class, one bar per batch.
func BarChart(rows []dto.ClassCount) ([]byte, error) {
	p := plot.New()
	p.Title.Text = chartTitle
	p.X.Label.Text = "class"
	p.Y.Label.Text = "count"
	p.Legend.Top = true

	classes, batches, counts := table(rows)
	if len(classes) > 0 {
		width := vg.Points(40 / float64(len(batches)))
		for i, batch := range batches {
			values := make(plotter.Values, len(classes))
			for j, class := range classes {
				values[j] = float64(counts[[2]string{class, batch}])
			}

			bars, err := plotter.NewBarChart(values, width)
			if err != nil {
				return nil, fmt.Errorf("failed to build bar chart: %w", err)
			}
			bars.LineStyle.Width = vg.Length(0)
			bars.Color = annotate.ClassColor(i)
			bars.Offset = width * vg.Length(float64(i)-float64(len(batches)-1)/2)

			p.Add(bars)
			p.Legend.Add(batch, bars)
		}
		p.NominalX(classes...)
	}

	writer, err := p.WriterTo(8*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return nil, fmt.Errorf("failed to render bar chart: %w", err)
	}
	var buf bytes.Buffer
	if _, err := writer.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode bar chart: %w", err)
	}
	return buf.Bytes(), nil
}

const (
	pieCell    = 320
	pieColumns = 3
	pieHeader  = 40
)

// PieChart renders one pie per batch, three per row, with percent and class labels.
func PieChart(rows []dto.ClassCount) ([]byte, error) {
	classes, batches, counts := table(rows)

	cols := max(1, min(pieColumns, len(batches)))
	rowsN := max(1, int(math.Ceil(float64(len(batches))/float64(cols))))
	dc := gg.NewContext(cols*pieCell, pieHeader+rowsN*pieCell)
	dc.SetColor(color.White)
	dc.Clear()

	dc.SetFontFace(truetype.NewFace(annotate.Font(), &truetype.Options{Size: 18}))
	dc.SetColor(color.Black)
	dc.DrawStringAnchored(chartTitle, float64(dc.Width())/2, pieHeader/2, 0.5, 0.5)

	small := truetype.NewFace(annotate.Font(), &truetype.Options{Size: 11})
	for b, batch := range batches {
		cx := float64(b%cols)*pieCell + pieCell/2
		cy := pieHeader + float64(b/cols)*pieCell + pieCell/2 + 10
		radius := pieCell/2 - 40.0

		total := 0
		for _, class := range classes {
			total += counts[[2]string{class, batch}]
		}

		dc.SetFontFace(small)
		dc.SetColor(color.Black)
		dc.DrawStringAnchored(batch, cx, cy-radius-15, 0.5, 0.5)
		if total == 0 {
			continue
		}

		angle := -math.Pi / 2
		for i, class := range classes {
			n := counts[[2]string{class, batch}]
			if n == 0 {
				continue
			}
			sweep := 2 * math.Pi * float64(n) / float64(total)

			dc.SetColor(annotate.ClassColor(i))
			dc.MoveTo(cx, cy)
			dc.DrawArc(cx, cy, radius, angle, angle+sweep)
			dc.ClosePath()
			dc.Fill()

			mid := angle + sweep/2
			dc.SetColor(color.Black)
			dc.DrawStringAnchored(
				fmt.Sprintf("%s %.1f%%", class, 100*float64(n)/float64(total)),
				cx+math.Cos(mid)*radius*0.6, cy+math.Sin(mid)*radius*0.6, 0.5, 0.5)

			angle += sweep
		}
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode pie chart: %w", err)
	}
	return buf.Bytes(), nil
}
