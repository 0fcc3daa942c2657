package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jrepp/pyramid-fleet/pkg/controller"
)

func newTestUI() (*UI, *bytes.Buffer, *bytes.Buffer) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	return NewUIWithWriters(out, errOut), out, errOut
}

func TestMessagesGoToTheRightWriter(t *testing.T) {
	u, out, errOut := newTestUI()

	u.Success("started g1")
	u.Error("boom")

	assert.Contains(t, out.String(), "started g1")
	assert.NotContains(t, out.String(), "boom")
	assert.Contains(t, errOut.String(), "boom")
}

func TestOutcome(t *testing.T) {
	u, out, _ := newTestUI()

	u.Outcome("stop", "g1", true)
	u.Outcome("stop", "g2", false)

	assert.Contains(t, out.String(), "stop g1: accepted")
	assert.Contains(t, out.String(), "stop g2: not accepted")
}

func TestKeyValue(t *testing.T) {
	u, out, _ := newTestUI()

	u.KeyValue("commands folder", "/srv/pyramid/cmds")

	assert.Contains(t, out.String(), "commands folder")
	assert.True(t, strings.HasSuffix(out.String(), ": /srv/pyramid/cmds\n"))
}

func TestTableAlignsColumns(t *testing.T) {
	u, out, _ := newTestUI()

	tbl := u.NewTable("A", "B")
	tbl.AddRow("long-value", "x")
	tbl.AddRow("s")
	tbl.Render()

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	assert.Len(t, lines, 4)
	assert.Equal(t, "long-value │ x", lines[2])
	assert.Equal(t, "s          │  ", lines[3])
}

func TestFleetStatus(t *testing.T) {
	u, out, _ := newTestUI()

	u.FleetStatus([]controller.Status{
		{
			ID:        "g1",
			Tracked:   true,
			Pid:       4242,
			StartedAt: time.Now().Add(-time.Minute),
			Alive:     true,
			Endpoints: []controller.EndpointStatus{{Address: "localhost:9001", Alive: true}},
		},
		{
			ID:        "PROXY",
			Endpoints: []controller.EndpointStatus{{Address: "localhost:8080", Alive: false}},
		},
	})

	s := out.String()
	assert.Contains(t, s, "4242")
	assert.Contains(t, s, "alive")
	assert.Contains(t, s, "localhost:9001 up")
	assert.Contains(t, s, "localhost:8080 down")
	assert.Regexp(t, `PROXY\s+│ down`, s)
}
