package dashboard

import (
	"testing"

	"github.com/devadigapratham/fleet3d/api/models"
	"github.com/stretchr/testify/assert"
)

func TestApplyStatusDiscardsOlderSequence(t *testing.T) {
	c := NewController()
	c.SetPrinters([]*models.Printer{printer("ZB3D-001", "a")})

	newer := status(true, models.StatePrinting, "a.gcode")
	older := status(true, models.StateStandby, "")

	assert.True(t, c.ApplyStatus("ZB3D-001", newer, 5))
	assert.False(t, c.ApplyStatus("ZB3D-001", older, 4))
	assert.Same(t, newer, c.Status("ZB3D-001"))

	// Same sequence is still accepted
	assert.True(t, c.ApplyStatus("ZB3D-001", older, 5))

	assert.False(t, c.ApplyStatus("ZB3D-404", newer, 9))
	assert.False(t, c.ApplyStatus("ZB3D-001", nil, 9))
}

func TestCountersFirstMatchWins(t *testing.T) {
	c := NewController()
	c.SetPrinters([]*models.Printer{
		printer("ZB3D-001", "ready"),
		printer("ZB3D-002", "offline"),
		printer("ZB3D-003", "error"),
		printer("ZB3D-004", "done"),
		printer("ZB3D-005", "printing"),
	})
	c.ApplyStatus("ZB3D-001", status(true, models.StateStandby, ""), 1)
	c.ApplyStatus("ZB3D-003", status(true, models.StateError, "x.gcode"), 1)
	c.ApplyStatus("ZB3D-004", status(true, models.StateComplete, "x.gcode"), 1)
	c.ApplyStatus("ZB3D-005", status(true, models.StatePrinting, "x.gcode"), 1)

	n := c.Counters()
	assert.Equal(t, Counters{Total: 5, Ready: 1, Idle: 1, Attention: 2, Completed: 1, Filtered: 5}, n)

	c.SetFilter(FilterAttention)
	assert.Equal(t, 2, c.Counters().Filtered)

	var ids []string
	for _, card := range c.Cards() {
		ids = append(ids, card.Printer.ID)
	}
	assert.Equal(t, []string{"ZB3D-002", "ZB3D-003"}, ids)
}

func TestSelection(t *testing.T) {
	c := NewController()
	c.SetPrinters([]*models.Printer{printer("ZB3D-001", "a"), printer("ZB3D-002", "b"), printer("ZB3D-003", "c")})
	c.ApplyStatus("ZB3D-001", status(true, models.StateStandby, ""), 1)

	c.SetFilter(FilterReady)
	c.SelectAll()
	assert.Equal(t, []string{"ZB3D-001"}, c.Selected())

	c.Select("ZB3D-003")
	c.Select("ZB3D-999")
	assert.Equal(t, []string{"ZB3D-001", "ZB3D-003"}, c.Selected())

	c.Deselect("ZB3D-001")
	assert.Equal(t, []string{"ZB3D-003"}, c.Selected())

	c.RemovePrinter("ZB3D-003")
	assert.Empty(t, c.Selected())

	c.Select("ZB3D-002")
	c.ClearSelection()
	assert.Empty(t, c.Selected())
}

func TestSetPrintersDropsRemovedState(t *testing.T) {
	c := NewController()
	c.SetPrinters([]*models.Printer{printer("ZB3D-001", "a"), printer("ZB3D-002", "b")})
	c.ApplyStatus("ZB3D-002", status(true, models.StateStandby, ""), 3)
	c.Select("ZB3D-002")

	c.SetPrinters([]*models.Printer{printer("ZB3D-001", "a")})
	assert.Nil(t, c.Status("ZB3D-002"))
	assert.Empty(t, c.Selected())

	// A re-added printer starts with a fresh sequence
	c.AddPrinter(printer("ZB3D-002", "b"))
	assert.True(t, c.ApplyStatus("ZB3D-002", status(false, "", ""), 1))
}

func TestViewMode(t *testing.T) {
	c := NewController()
	assert.Equal(t, ViewGrid, c.ViewMode())
	c.SetViewMode(ViewList)
	assert.Equal(t, ViewList, c.ViewMode())
	c.SetViewMode("tiles")
	assert.Equal(t, ViewGrid, c.ViewMode())
}
