package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/zsiec/refract/internal/codec"
	"github.com/zsiec/refract/internal/format"
	"github.com/zsiec/refract/internal/transcode"
)

func runFormats(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("formats", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	caps := transcode.DescribeCapabilities(transcode.DefaultFormats(), codec.DefaultRegistry())
	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(caps)
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Formats:")
	fmt.Fprintln(tw, " D\tE\tNAME\tDESCRIPTION")
	for _, row := range formatRows(caps.Demuxers, caps.Muxers) {
		fmt.Fprintf(tw, " %s\t%s\t%s\t%s\n", row.demux, row.mux, row.name, row.longName)
	}

	fmt.Fprintln(tw, "\nCodecs:")
	fmt.Fprintln(tw, " D\tE\tKIND\tNAME\tDESCRIPTION")
	decoders := map[string]bool{}
	for _, d := range caps.Decoders {
		decoders[string(d.Codec)] = true
	}
	encoders := map[string]bool{}
	for _, e := range caps.Encoders {
		encoders[string(e.Codec)] = true
	}
	for _, c := range caps.Codecs {
		fmt.Fprintf(tw, " %s\t%s\t%s\t%s\t%s\n", flagOf(decoders[string(c.ID)], "D"), flagOf(encoders[string(c.ID)], "E"), c.KindName, c.ID, c.LongName)
	}

	fmt.Fprintln(tw, "\nChannel layouts:")
	for _, l := range caps.ChannelLayouts {
		fmt.Fprintf(tw, " %s\t%d\n", l.Name, l.Channels)
	}

	sampleFormats := make([]string, len(caps.SampleFormats))
	for i, f := range caps.SampleFormats {
		sampleFormats[i] = string(f)
	}
	pixelFormats := make([]string, len(caps.PixelFormats))
	for i, f := range caps.PixelFormats {
		pixelFormats[i] = string(f)
	}
	fmt.Fprintf(tw, "\nSample formats: %s\n", strings.Join(sampleFormats, " "))
	fmt.Fprintf(tw, "Pixel formats: %s\n", strings.Join(pixelFormats, " "))
	return tw.Flush()
}

type formatRow struct {
	demux, mux     string
	name, longName string
}

// formatRows merges demuxers and muxers by name, in name order.
func formatRows(demuxers, muxers []format.Descriptor) []formatRow {
	var rows []formatRow
	i, j := 0, 0
	for i < len(demuxers) || j < len(muxers) {
		switch {
		case j >= len(muxers) || (i < len(demuxers) && demuxers[i].Name < muxers[j].Name):
			rows = append(rows, formatRow{"D", " ", demuxers[i].Name, demuxers[i].LongName})
			i++
		case i >= len(demuxers) || muxers[j].Name < demuxers[i].Name:
			rows = append(rows, formatRow{" ", "E", muxers[j].Name, muxers[j].LongName})
			j++
		default:
			rows = append(rows, formatRow{"D", "E", muxers[j].Name, muxers[j].LongName})
			i++
			j++
		}
	}
	return rows
}

func flagOf(ok bool, s string) string {
	if ok {
		return s
	}
	return " "
}
