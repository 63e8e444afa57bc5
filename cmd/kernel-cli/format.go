package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/native/resource"
	"github.com/govm-net/kernel/security"
	"github.com/govm-net/kernel/vm"
	"github.com/holiman/uint256"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	printer = message.NewPrinter(language.English)
	title   = cases.Title(language.English)
)

// parseAmount parses a decimal XRD amount such as "10" or "0.25"
func parseAmount(s string) (resource.Amount, error) {
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 18 {
		return resource.Amount{}, fmt.Errorf("%w: %s has more than 18 decimals", core.ErrInvalidArgument, s)
	}
	n, err := uint256.FromDecimal(whole + frac + strings.Repeat("0", 18-len(frac)))
	if err != nil {
		return resource.Amount{}, fmt.Errorf("%w: amount %q: %v", core.ErrInvalidArgument, s, err)
	}
	return resource.AmountOf(n), nil
}

// formatAmount renders attos as a decimal XRD amount
func formatAmount(attos *uint256.Int) string {
	s := attos.Dec()
	if len(s) <= 18 {
		s = strings.Repeat("0", 19-len(s)) + s
	}
	whole, frac := s[:len(s)-18], strings.TrimRight(s[len(s)-18:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

func parseNodeIDs(values []string) ([]core.NodeID, error) {
	ids := make([]core.NodeID, 0, len(values))
	for _, v := range values {
		id, err := core.NodeIDFromString(v)
		if err != nil {
			return nil, fmt.Errorf("invalid node id %q: %w", v, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func printReceipt(w io.Writer, r *vm.Receipt) {
	printer.Fprintf(w, "Transaction: %s\n", r.TxHash)
	printer.Fprintf(w, "Outcome:     %s\n", title.String(strings.ReplaceAll(r.Outcome.String(), "_", " ")))
	if r.Error != nil {
		printer.Fprintf(w, "Error:       [%s] %v\n", r.ErrorKind, r.Error)
	}
	if r.Fee != nil {
		printer.Fprintf(w, "Cost units:  %d / %d\n", r.Fee.TotalCostUnitsConsumed, r.Fee.CostUnitLimit)
		printer.Fprintf(w, "Fee:         %s XRD\n", formatAmount(r.Fee.TotalExecutionCost))
	}
	if r.Settlement != nil {
		printer.Fprintf(w, "Collected:   %s XRD\n", formatAmount(r.Settlement.Collected))
		for _, vault := range r.Settlement.RefundVaults() {
			printer.Fprintf(w, "  refund %s: %s XRD\n", vault, formatAmount(r.Settlement.Refunds[vault]))
		}
	}
	if r.StateUpdates != nil {
		printer.Fprintf(w, "Committed:   %d substates (version %d)\n", r.StateUpdates.Len(), r.Version)
	}
	printer.Fprintf(w, "Substates:   %d read, %d written\n", r.SubstatesRead, r.SubstatesWritten)
	for _, l := range r.Logs {
		fmt.Fprintf(w, "Log [%s] %s %v\n", l.Actor, l.Message, l.Fields)
	}
	if len(r.Trace) > 0 {
		fmt.Fprintln(w, "Trace:")
		printTrace(w, r.Trace, 1)
	}
}

func printTrace(w io.Writer, traces []*security.CallTrace, indent int) {
	for _, t := range traces {
		printer.Fprintf(w, "%s%s (%d units)", strings.Repeat("  ", indent), t.Actor, t.CostUnits)
		if t.Error != "" {
			fmt.Fprintf(w, " error: %s", t.Error)
		}
		fmt.Fprintln(w)
		printTrace(w, t.Children, indent+1)
	}
}

func printBreakdown(w io.Writer, breakdown map[core.CostingReason]uint32) {
	reasons := make([]core.CostingReason, 0, len(breakdown))
	for r := range breakdown {
		reasons = append(reasons, r)
	}
	sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })
	for _, r := range reasons {
		printer.Fprintf(w, "  %-24s %12d\n", r.String(), breakdown[r])
	}
}
