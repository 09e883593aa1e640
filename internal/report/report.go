// Package report renders stored fingerprints as charts for the debug pages.
package report

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/uva-nepa/nepa/internal/fingerprint"
)

// ErrNoData is returned when there is nothing to draw.
var ErrNoData = errors.New("no fingerprints to render")

// Options tune the rendered output.
type Options struct {
	Title string
	// AssetsHost overrides where the echarts scripts are loaded from.
	AssetsHost string
	Width      vg.Length
	Height     vg.Length
}

func (o Options) title() string {
	if o.Title == "" {
		return "Beacon fingerprints"
	}
	return o.Title
}

func (o Options) size() (vg.Length, vg.Length) {
	w, h := o.Width, o.Height
	if w <= 0 {
		w = 10 * vg.Inch
	}
	if h <= 0 {
		h = 5 * vg.Inch
	}
	return w, h
}

// table lays fingerprints out in window order with one column per beacon.
type table struct {
	rows    []fingerprint.Fingerprint
	beacons []string
}

func newTable(fps []fingerprint.Fingerprint) table {
	rows := append([]fingerprint.Fingerprint(nil), fps...)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].WindowStart.Before(rows[j].WindowStart) })

	seen := make(map[string]bool)
	var beacons []string
	for _, f := range rows {
		for id := range f.Signals {
			if !seen[id] {
				seen[id] = true
				beacons = append(beacons, id)
			}
		}
	}
	sort.Strings(beacons)
	return table{rows: rows, beacons: beacons}
}

func windowLabel(f fingerprint.Fingerprint) string {
	label := f.WindowStart.Format("15:04:05")
	if f.Location != "" {
		label = fmt.Sprintf("%s %s/%s", label, f.Location, f.Section)
	}
	return label
}

// RenderHTML writes an echarts page with the mean RSSI of every beacon per
// window as a bar chart and as a scatter over time.
func RenderHTML(w io.Writer, fps []fingerprint.Fingerprint, o Options) error {
	t := newTable(fps)
	if len(t.rows) == 0 {
		return ErrNoData
	}

	labels := make([]string, len(t.rows))
	for i, f := range t.rows {
		labels[i] = windowLabel(f)
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: o.title(), Width: "100%", Height: "560px", AssetsHost: o.AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: o.title(), Subtitle: fmt.Sprintf("windows=%d beacons=%d", len(t.rows), len(t.beacons))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Bottom: "0"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "RSSI (dBm)", Max: 0}),
	)
	bar.SetXAxis(labels)

	start := t.rows[0].WindowStart
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px", AssetsHost: o.AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Signal over time", Subtitle: start.Format(time.RFC3339)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "RSSI (dBm)", Max: 0}),
	)

	for _, id := range t.beacons {
		bars := make([]opts.BarData, len(t.rows))
		var points []opts.ScatterData
		for i, f := range t.rows {
			rssi, ok := f.Signals[id]
			if !ok {
				// echarts leaves "-" values as gaps
				bars[i] = opts.BarData{Value: "-"}
				continue
			}
			bars[i] = opts.BarData{Value: rssi}
			points = append(points, opts.ScatterData{Value: []interface{}{f.WindowStart.Sub(start).Seconds(), rssi}})
		}
		bar.AddSeries(id, bars)
		scatter.AddSeries(id, points, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
	}

	page := components.NewPage()
	if o.AssetsHost != "" {
		page.SetAssetsHost(o.AssetsHost)
	}
	page.PageTitle = o.title()
	page.AddCharts(bar, scatter)
	return page.Render(w)
}

// RenderPNG draws one line per beacon, RSSI against seconds since the first
// window, and writes the image as PNG.
func RenderPNG(w io.Writer, fps []fingerprint.Fingerprint, o Options) error {
	t := newTable(fps)
	if len(t.rows) == 0 {
		return ErrNoData
	}

	p := plot.New()
	p.Title.Text = o.title()
	p.X.Label.Text = "t (s)"
	p.Y.Label.Text = "RSSI (dBm)"
	p.Add(plotter.NewGrid())

	start := t.rows[0].WindowStart
	for i, id := range t.beacons {
		pts := make(plotter.XYs, 0, len(t.rows))
		for _, f := range t.rows {
			if rssi, ok := f.Signals[id]; ok {
				pts = append(pts, plotter.XY{X: f.WindowStart.Sub(start).Seconds(), Y: float64(rssi)})
			}
		}
		line, scatter, err := plotter.NewLinePoints(pts)
		if err != nil {
			return fmt.Errorf("failed to plot %s: %w", id, err)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		scatter.Color = plotutil.Color(i)
		scatter.Shape = plotutil.Shape(i)
		p.Add(line, scatter)
		p.Legend.Add(id, line, scatter)
	}
	p.Legend.Top = true

	width, height := o.size()
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("failed to create png writer: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
