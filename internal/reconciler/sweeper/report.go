package sweeper

import (
	"fmt"
	"io"
)

// Print writes the counts block printed by the sweep command, followed by one line
// per action an operator has to follow up on
func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "run:                  %s\n", r.RunID)
	if r.DryRun {
		fmt.Fprintln(w, "mode:                 dry-run")
	}
	fmt.Fprintf(w, "invoiced-checked:     %d\n", r.InvoicedChecked)
	fmt.Fprintf(w, "orphans-repaired:     %d\n", r.OrphansRepaired)
	fmt.Fprintf(w, "duplicate-groups:     %d\n", r.DuplicateGroups)
	fmt.Fprintf(w, "duplicate-candidates: %d\n", r.DuplicateCandidates)
	fmt.Fprintf(w, "unlinked-invoices:    %d\n", r.UnlinkedInvoices)
	fmt.Fprintf(w, "tax-drift:            %d\n", r.TaxDrift)

	for _, a := range r.Actions {
		if a.Applied {
			continue
		}
		target := a.OrderID
		if a.TransactionType != "" {
			target = fmt.Sprintf("%s/%s", a.OrderID, a.TransactionType)
		}
		if target == "" {
			target = a.GroupKey
		}
		fmt.Fprintf(w, "  %-20s %-24s invoice=%d %s\n", a.Kind, target, a.LedgerInvoiceID, a.Detail)
	}
}
