package chart

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"cryptocompare-telegram-bot/lib/helpers"

	"github.com/golang/freetype/truetype"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

var (
	backgroundColor = drawing.Color{R: 55, G: 55, B: 55, A: 255}
	textColor       = drawing.Color{R: 200, G: 200, B: 200, A: 255}
	gridColor       = drawing.Color{R: 100, G: 100, B: 100, A: 128}
	seriesColor     = drawing.Color{R: 0, G: 122, B: 255, A: 255}
	fillColor       = drawing.Color{R: 0, G: 122, B: 255, A: 25}
)

var (
	fontOnce sync.Once
	font     *truetype.Font
)

func defaultFont() *truetype.Font {
	fontOnce.Do(func() {
		f, err := gochart.GetDefaultFont()
		if err != nil {
			log.WithError(err).Error("could not load chart font")
			return
		}
		font = f
	})
	return font
}

// Renderer draws PNG line charts from the first source that knows the pair
type Renderer struct {
	sources []Source
	width   int
	height  int
}

func NewRenderer(sources ...Source) *Renderer {
	return &Renderer{sources: sources, width: 1200, height: 600}
}

// RenderChart returns a PNG, or nil when no source has history for the pair
func (r *Renderer) RenderChart(ctx context.Context, symbol, quote, timeframe string) ([]byte, error) {
	symbol, quote = strings.ToUpper(symbol), strings.ToUpper(quote)
	if !IsTimeframe(timeframe) {
		timeframe = DefaultTimeframe
	}

	var lastErr error
	for _, src := range r.sources {
		points, err := src.History(ctx, symbol, quote, timeframe)
		if err != nil {
			log.WithError(err).Warnf("%s history for %s/%s unavailable", src.Name(), symbol, quote)
			lastErr = err
			continue
		}
		if len(points) < 2 {
			continue
		}

		title := fmt.Sprintf("%s/%s %s - %s", symbol, quote, timeframe, src.Name())
		return r.draw(title, points)
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, nil
}

func (r *Renderer) draw(title string, points []Point) ([]byte, error) {
	series := gochart.TimeSeries{
		Name: title,
		Style: gochart.Style{
			StrokeColor: seriesColor,
			StrokeWidth: 2,
			FillColor:   fillColor,
		},
		XValues: make([]time.Time, 0, len(points)),
		YValues: make([]float64, 0, len(points)),
	}

	minPrice, maxPrice := points[0].Price, points[0].Price
	for _, p := range points {
		series.XValues = append(series.XValues, p.Time)
		series.YValues = append(series.YValues, p.Price)
		if p.Price < minPrice {
			minPrice = p.Price
		}
		if p.Price > maxPrice {
			maxPrice = p.Price
		}
	}

	padding := (maxPrice - minPrice) * 0.1
	if padding == 0 {
		padding = maxPrice * 0.01
	}

	axisStyle := gochart.Style{FontColor: textColor, FontSize: 10, StrokeColor: gridColor}

	graph := gochart.Chart{
		Title:      title,
		TitleStyle: gochart.Style{FontColor: textColor, FontSize: 14},
		Width:      r.width,
		Height:     r.height,
		Font:       defaultFont(),
		Background: gochart.Style{
			FillColor: backgroundColor,
			Padding:   gochart.Box{Top: 50, Left: 20, Right: 20, Bottom: 20},
		},
		Canvas: gochart.Style{FillColor: backgroundColor},
		XAxis: gochart.XAxis{
			Style:          axisStyle,
			ValueFormatter: gochart.TimeValueFormatterWithFormat("02-Jan 15:04"),
		},
		YAxis: gochart.YAxis{
			Style: axisStyle,
			Range: &gochart.ContinuousRange{Min: minPrice - padding, Max: maxPrice + padding},
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return helpers.FormatPrice(f)
				}
				return ""
			},
			GridMajorStyle: gochart.Style{StrokeColor: gridColor, StrokeWidth: 1},
		},
		Series: []gochart.Series{series},
	}

	buf := bytes.NewBuffer(nil)
	if err := graph.Render(gochart.PNG, buf); err != nil {
		return nil, errors.Wrap(err, "render chart")
	}
	return buf.Bytes(), nil
}
