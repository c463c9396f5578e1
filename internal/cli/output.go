package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"restock/internal/checker"
)

type resultJSON struct {
	Product string `json:"product"`
	URL     string `json:"url"`
	Domain  string `json:"domain"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

type summaryJSON struct {
	RunID    string         `json:"run_id"`
	Duration string         `json:"duration"`
	Counts   map[string]int `json:"counts"`
	Results  []resultJSON   `json:"results"`
}

func writeSummary(w io.Writer, format string, sum checker.Summary) error {
	counts := map[string]int{}
	for o, n := range sum.Counts() {
		counts[o.String()] = n
	}

	if format == "json" {
		out := summaryJSON{RunID: sum.RunID, Duration: sum.Duration().String(), Counts: counts, Results: make([]resultJSON, 0, len(sum.Results))}
		for _, r := range sum.Results {
			rj := resultJSON{Product: r.Product.Label(), URL: r.Product.URL, Domain: r.Product.Domain(), Outcome: r.Outcome.String()}
			if r.Err != nil {
				rj.Error = r.Err.Error()
			}
			out.Results = append(out.Results, rj)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRODUCT\tSTORE\tOUTCOME\tERROR")
	for _, r := range sum.Results {
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Product.Label(), r.Product.Domain(), r.Outcome, errText)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(w, "\nrun %s: %d product(s) in %s", sum.RunID, len(sum.Results), sum.Duration().Round(time.Millisecond))
	for _, k := range keys {
		fmt.Fprintf(w, ", %s=%d", k, counts[k])
	}
	fmt.Fprintln(w)
	return nil
}
