package candidates

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
)

var tableHeader = []string{"DATASET", "DESIGNATION", "PROB", "LABEL", "P_DAYS", "DUR_HR", "RP_RE", "TEFF_K", "DEPTH_PPM", "RSTAR_RSUN"}

// fixed formats v with digits decimals, or "N/A" for zero.
func fixed(v float64, digits int) string {
	if v == 0 {
		return "N/A"
	}
	return strconv.FormatFloat(v, 'f', digits, 64)
}

// Row renders the candidate as display cells.
func (c Candidate) Row() []string {
	name := c.Name()
	if c.Confirmed() {
		name += " *"
	}
	teff := "N/A"
	if c.TeffK != 0 {
		teff = strconv.FormatFloat(c.TeffK, 'f', -1, 64)
	}
	return []string{
		c.DatasetName(),
		name,
		strconv.FormatFloat(c.Prob, 'f', -1, 64),
		strconv.FormatFloat(c.Label, 'f', -1, 64),
		fixed(c.PDays, 2),
		fixed(c.DurHr, 2),
		fixed(c.RpRe, 2),
		teff,
		fixed(c.DepthPpm, 1),
		fixed(c.RstarRsun, 3),
	}
}

// WriteTable prints candidates as an aligned table. Confirmed targets are
// marked with an asterisk.
func WriteTable(w io.Writer, list []Candidate) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "No candidate data found for this analysis.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	writeRow(tw, tableHeader)
	for _, c := range list {
		writeRow(tw, c.Row())
	}
	return tw.Flush()
}

func writeRow(w io.Writer, cells []string) {
	for i, cell := range cells {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, cell)
	}
	fmt.Fprintln(w)
}
