package render

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/censys/scandiff/pkg/diff"
	"github.com/censys/scandiff/pkg/snapshot"
)

const maxRuleWidth = 80

// TextRenderer prints a human-readable report. Colors are applied unless
// NoColor is set.
type TextRenderer struct {
	NoColor bool
}

func (r *TextRenderer) Render(w io.Writer, report *diff.DiffReport) error {
	var b strings.Builder

	width := terminalWidth(w, maxRuleWidth)
	if width > maxRuleWidth {
		width = maxRuleWidth
	}
	rule := strings.Repeat("─", width)

	b.WriteString(r.colorize("Snapshot diff", color.FgCyan, color.Bold))
	if report.OldSnapshot != nil {
		fmt.Fprintf(&b, " for %s", report.OldSnapshot.Host)
	}
	b.WriteString("\n")
	b.WriteString(r.colorize(rule, color.FgCyan) + "\n")
	fmt.Fprintf(&b, "  old: %s\n", describe(report.OldSnapshot))
	fmt.Fprintf(&b, "  new: %s\n\n", describe(report.NewSnapshot))

	if !report.HasChanges() {
		b.WriteString(r.colorize("No changes between snapshots", color.FgGreen) + "\n")
		_, err := io.WriteString(w, b.String())
		return err
	}

	if len(report.PortsAdded) > 0 {
		b.WriteString(r.colorize(fmt.Sprintf("Ports added (%d)", len(report.PortsAdded)), color.FgGreen, color.Bold) + "\n")
		r.writePorts(&b, "+", report.PortsAdded, color.FgGreen)
		b.WriteString("\n")
	}
	if len(report.PortsRemoved) > 0 {
		b.WriteString(r.colorize(fmt.Sprintf("Ports removed (%d)", len(report.PortsRemoved)), color.FgRed, color.Bold) + "\n")
		r.writePorts(&b, "-", report.PortsRemoved, color.FgRed)
		b.WriteString("\n")
	}
	if len(report.ServicesChanged) > 0 {
		b.WriteString(r.colorize(fmt.Sprintf("Services changed (%d)", len(report.ServicesChanged)), color.FgYellow, color.Bold) + "\n")
		for _, c := range report.ServicesChanged {
			r.writeChange(&b, c)
		}
		b.WriteString("\n")
	}

	s := report.Summary()
	b.WriteString(r.colorize(rule, color.FgCyan) + "\n")
	fmt.Fprintf(&b, "Summary: %d added, %d removed, %d changed, %d vulnerabilities added, %d fixed\n",
		s.PortsAdded, s.PortsRemoved, s.ServicesChanged, s.VulnerabilitiesAdded, s.VulnerabilitiesFixed)

	_, err := io.WriteString(w, b.String())
	return err
}

// writePorts aligns columns before coloring so escape codes never skew them.
func (r *TextRenderer) writePorts(b *strings.Builder, sign string, changes []diff.PortChange, attr color.Attribute) {
	var table strings.Builder
	tw := tabwriter.NewWriter(&table, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  \tPORT\tPROTOCOL\tSTATUS\tSOFTWARE\tTLS\tVULNERABILITIES")
	for _, c := range changes {
		fmt.Fprintf(tw, "  %s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			sign,
			c.Port,
			c.Protocol,
			formatStatus(c.Service.Status),
			formatSoftware(c.Service.Software),
			formatTLS(c.Service.TLS),
			formatVulns(c.Service.Vulnerabilities.Sorted()),
		)
	}
	tw.Flush()

	lines := strings.Split(strings.TrimRight(table.String(), "\n"), "\n")
	for i, line := range lines {
		if i == 0 {
			b.WriteString(r.colorize(line, color.Faint) + "\n")
			continue
		}
		b.WriteString(r.colorize(line, attr) + "\n")
	}
}

func (r *TextRenderer) writeChange(b *strings.Builder, c diff.ServiceChange) {
	fmt.Fprintf(b, "  ~ %d/%s\n", c.Port, c.Protocol)
	if c.ProtocolChanged {
		fmt.Fprintf(b, "      protocol: %s -> %s\n", c.OldProtocol, c.NewProtocol)
	}
	if c.StatusChanged {
		fmt.Fprintf(b, "      status:   %s -> %s\n", formatStatus(c.OldStatus), formatStatus(c.NewStatus))
	}
	if c.SoftwareChanged {
		fmt.Fprintf(b, "      software: %s -> %s\n", formatSoftware(c.OldSoftware), formatSoftware(c.NewSoftware))
	}
	if c.TLSChanged {
		fmt.Fprintf(b, "      tls:      %s -> %s\n", formatTLS(c.OldTLS), formatTLS(c.NewTLS))
	}
	for _, id := range c.VulnerabilitiesAdded {
		b.WriteString(r.colorize("      + "+id, color.FgRed) + "\n")
	}
	for _, id := range c.VulnerabilitiesFixed {
		b.WriteString(r.colorize("      - "+id+" (fixed)", color.FgGreen) + "\n")
	}
}

func (r *TextRenderer) colorize(text string, attrs ...color.Attribute) string {
	if r.NoColor {
		return text
	}
	return color.New(attrs...).Sprint(text)
}

func describe(s *snapshot.Snapshot) string {
	if s == nil {
		return "-"
	}
	out := s.Timestamp.UTC().Format(time.RFC3339)
	if s.ID != 0 {
		out = "#" + strconv.FormatInt(s.ID, 10) + " " + out
	}
	return fmt.Sprintf("%s (%d services)", out, len(s.Services))
}

func formatStatus(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}

func formatSoftware(s *snapshot.Software) string {
	if s == nil {
		return "-"
	}
	var parts []string
	for _, p := range []*string{s.Vendor, s.Product, s.Version} {
		if p != nil && *p != "" {
			parts = append(parts, *p)
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}

func formatTLS(t *snapshot.TLS) string {
	if t == nil {
		return "-"
	}
	var parts []string
	if t.Version != nil {
		parts = append(parts, *t.Version)
	}
	if t.Cipher != nil {
		parts = append(parts, *t.Cipher)
	}
	if t.CertFingerprintSHA256 != nil {
		fp := *t.CertFingerprintSHA256
		if len(fp) > 12 {
			fp = fp[:12] + "…"
		}
		parts = append(parts, "cert "+fp)
	}
	if len(parts) == 0 {
		return "present"
	}
	return strings.Join(parts, " ")
}

func formatVulns(ids []string) string {
	if len(ids) == 0 {
		return "-"
	}
	return strings.Join(ids, ", ")
}
