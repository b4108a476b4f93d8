package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/ekaya-inc/ekaya-mixdb/pkg/logging"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/models"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/repositories"
)

// maxCellWidth caps free text in the human-readable tables. JSON output is never truncated.
const maxCellWidth = 120

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func printImportReport(w io.Writer, r *models.ImportReport) error {
	tw := newTable(w)
	fmt.Fprintf(tw, "Dataset\t%s\n", r.Dataset)
	fmt.Fprintf(tw, "Run\t%s\n", r.RunID)
	fmt.Fprintf(tw, "Rows processed\t%d\n", r.RowsProcessed)
	fmt.Fprintf(tw, "Rows skipped\t%d\n", r.RowsSkipped)
	fmt.Fprintf(tw, "Mixes created\t%d\n", r.MixesCreated)
	fmt.Fprintf(tw, "Components created\t%d\n", r.ComponentsCreated)
	fmt.Fprintf(tw, "Materials created\t%d\n", r.MaterialsCreated)
	fmt.Fprintf(tw, "Materials reused\t%d\n", r.MaterialsReused)
	fmt.Fprintf(tw, "Properties written\t%d\n", r.PropertiesWritten)
	fmt.Fprintf(tw, "Details written\t%d\n", r.DetailsWritten)
	fmt.Fprintf(tw, "Performance results\t%d\n", r.PerformanceResultsCreated)
	fmt.Fprintf(tw, "Duration\t%s\n", r.Duration)
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(r.Skipped) > 0 {
		fmt.Fprintln(w, "\nSkipped rows:")
		tw = newTable(w)
		for _, s := range r.Skipped {
			fmt.Fprintf(tw, "  %d\t%s\n", s.Row, logging.TruncateString(s.Reason, maxCellWidth))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(r.Warnings) > 0 {
		fmt.Fprintln(w, "\nWarnings:")
		tw = newTable(w)
		for _, wn := range r.Warnings {
			row := "file"
			if wn.Row > 0 {
				row = fmt.Sprintf("%d", wn.Row)
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", row, wn.Column, logging.TruncateString(wn.Message, maxCellWidth))
		}
		return tw.Flush()
	}
	return nil
}

func printCanonicalizationReport(w io.Writer, r *models.CanonicalizationReport) error {
	if r.DryRun {
		fmt.Fprintln(w, "Dry run: no changes were committed.")
	}

	tw := newTable(w)
	fmt.Fprintf(tw, "Run\t%s\n", r.RunID)
	fmt.Fprintf(tw, "Attempts\t%d\n", r.Attempts)
	fmt.Fprintf(tw, "Materials before\t%d\n", r.MaterialsBefore)
	fmt.Fprintf(tw, "Materials after\t%d\n", r.MaterialsAfter)
	fmt.Fprintf(tw, "Reclassified\t%d\n", r.Reclassified)
	fmt.Fprintf(tw, "Groups merged\t%d of %d\n", r.GroupsMerged, r.Groups)
	fmt.Fprintf(tw, "Materials merged\t%d\n", r.MaterialsMerged)
	fmt.Fprintf(tw, "Canonical rows updated\t%d\n", r.CanonicalRowsUpdated)
	fmt.Fprintf(tw, "Duration\t%s\n", r.Duration)
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(r.Rewrites) > 0 {
		fmt.Fprintln(w, "\nReferences rewritten:")
		tw = newTable(w)
		fmt.Fprintln(tw, "  TABLE\tCOLUMN\tUPDATED\tDROPPED")
		for _, rw := range r.Rewrites {
			fmt.Fprintf(tw, "  %s\t%s\t%d\t%d\n", rw.Table, rw.Column, rw.RowsUpdated, rw.RowsDropped)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if r.AuditError != "" {
		fmt.Fprintf(w, "\nWarning: changes were committed but audit files are incomplete: %s\n", r.AuditError)
	}

	if len(r.AuditFiles) > 0 {
		fmt.Fprintln(w, "\nAudit files:")
		for _, f := range r.AuditFiles {
			fmt.Fprintf(w, "  %s\n", f)
		}
	}
	return nil
}

func printPurgeCounts(w io.Writer, dataset string, c *repositories.PurgeCounts) error {
	tw := newTable(w)
	fmt.Fprintf(tw, "Dataset\t%s\n", dataset)
	fmt.Fprintf(tw, "Mixes deleted\t%d\n", c.Mixes)
	fmt.Fprintf(tw, "Components deleted\t%d\n", c.Components)
	fmt.Fprintf(tw, "Performance results deleted\t%d\n", c.PerformanceResults)
	return tw.Flush()
}
