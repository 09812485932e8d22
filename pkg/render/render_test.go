package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/censys/scandiff/pkg/diff"
	"github.com/censys/scandiff/pkg/snapshot"
)

func sampleReport(t *testing.T) *diff.DiffReport {
	t.Helper()
	old, err := snapshot.New("192.168.1.1", time.Date(2025, 9, 10, 3, 0, 0, 0, time.UTC), []snapshot.Service{
		{Port: 80, Protocol: "HTTP", Status: snapshot.Int(200), Vulnerabilities: snapshot.NewVulnSet("CVE-2020-1")},
		{Port: 21, Protocol: "FTP", Vulnerabilities: snapshot.NewVulnSet()},
	}, 2)
	require.NoError(t, err)
	new, err := snapshot.New("192.168.1.1", time.Date(2025, 9, 15, 3, 0, 0, 0, time.UTC), []snapshot.Service{
		{Port: 80, Protocol: "HTTP", Status: snapshot.Int(301), Vulnerabilities: snapshot.NewVulnSet("CVE-2024-9")},
		{Port: 22, Protocol: "SSH", Software: &snapshot.Software{Product: snapshot.String("OpenSSH")}, Vulnerabilities: snapshot.NewVulnSet()},
	}, 2)
	require.NoError(t, err)

	report, err := diff.Compare(old, new)
	require.NoError(t, err)
	return report
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatText, "TEXT": FormatText, "json": FormatJSON, "yml": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("csv")
	assert.Error(t, err)
}

func TestTextRenderer(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&TextRenderer{NoColor: true}).Render(&buf, sampleReport(t)))
	out := buf.String()

	assert.Contains(t, out, "Snapshot diff for 192.168.1.1")
	assert.Contains(t, out, "Ports added (1)")
	assert.Contains(t, out, "Ports removed (1)")
	assert.Contains(t, out, "Services changed (1)")
	assert.Contains(t, out, "status:   200 -> 301")
	assert.Contains(t, out, "+ CVE-2024-9")
	assert.Contains(t, out, "- CVE-2020-1 (fixed)")
	assert.Contains(t, out, "OpenSSH")
	assert.Contains(t, out, "Summary: 1 added, 1 removed, 1 changed, 1 vulnerabilities added, 1 fixed")
	assert.NotContains(t, out, "\x1b[")

	assert.Less(t, strings.Index(out, "Ports added"), strings.Index(out, "Ports removed"))
}

func TestTextRendererNoChanges(t *testing.T) {
	s, err := snapshot.New("10.0.0.1", time.Date(2025, 9, 10, 3, 0, 0, 0, time.UTC), nil, 0)
	require.NoError(t, err)
	report, err := diff.Compare(s, s)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, (&TextRenderer{NoColor: true}).Render(&buf, report))
	assert.Contains(t, buf.String(), "No changes between snapshots")
	assert.NotContains(t, buf.String(), "Summary")
}

func TestJSONRenderer(t *testing.T) {
	r, err := New(FormatJSON, true)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf, sampleReport(t)))

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, true, out["has_changes"])
	assert.Len(t, out["ports_added"], 1)
}

func TestYAMLRenderer(t *testing.T) {
	r, err := New(FormatYAML, true)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf, sampleReport(t)))

	var out map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, true, out["has_changes"])
	changed, ok := out["services_changed"].([]interface{})
	require.True(t, ok)
	require.Len(t, changed, 1)
	entry := changed[0].(map[string]interface{})
	assert.Equal(t, 80, entry["port"])
	assert.Equal(t, []interface{}{"CVE-2020-1"}, entry["vulnerabilities_fixed"])
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, IsTerminal(&bytes.Buffer{}))
	assert.False(t, IsTerminal(nil))
}
