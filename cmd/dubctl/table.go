package main

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/knewbitmax/api/internal/dubbing"
	"github.com/knewbitmax/api/internal/media"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

func segmentTable(segments []dubbing.Segment) string {
	rows := make([][]string, 0, len(segments))
	for i, seg := range segments {
		rows = append(rows, []string{
			strconv.Itoa(i),
			formatTimestamp(seg.Start),
			formatTimestamp(seg.End),
			seg.OriginalText,
			seg.TranslatedText,
			seg.Emotion,
		})
	}
	return renderTable(
		[]string{"#", "Start", "End", "Original", "Translated", "Emotion"},
		rows,
		[]columnAlignment{alignRight, alignRight, alignRight},
	)
}

func streamTable(streams []media.Stream) string {
	rows := make([][]string, 0, len(streams))
	for _, s := range streams {
		detail := ""
		switch s.CodecType {
		case "video":
			detail = fmt.Sprintf("%dx%d", s.Width, s.Height)
		case "audio":
			detail = fmt.Sprintf("%s Hz, %d ch", s.SampleRate, s.Channels)
		}
		rows = append(rows, []string{strconv.Itoa(s.Index), s.CodecType, s.CodecName, detail})
	}
	return renderTable([]string{"#", "Type", "Codec", "Detail"}, rows, []columnAlignment{alignRight})
}

// formatTimestamp renders seconds as mm:ss.mmm
func formatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(seconds*1000 + 0.5)
	return fmt.Sprintf("%02d:%02d.%03d", ms/60000, (ms/1000)%60, ms%1000)
}
