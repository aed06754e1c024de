package main

import (
	"cmp"
	"math"
	"slices"

	"github.com/unklstewy/flightglobe/internal/reconcile"
	"github.com/unklstewy/flightglobe/internal/scene"
	"github.com/unklstewy/flightglobe/pkg/geodesy"
)

// flightRow is one aircraft as shown on the board, recovered from its
// scene node.
type flightRow struct {
	Handle   reconcile.Handle
	Label    string
	Lat      float64
	Lon      float64
	Alt      float64
	Heading  float64
	Oriented bool
}

// board mirrors the scene stream as a table of flights.
type board struct {
	nodes    map[reconcile.Handle]scene.Node
	airports int
	routes   int
	updates  int
}

func newBoard() *board {
	return &board{nodes: make(map[reconcile.Handle]scene.Node)}
}

// apply folds one scene message into the board.
func (b *board) apply(m scene.Message) {
	b.updates++

	switch m.Op {
	case scene.OpSnapshot:
		clear(b.nodes)
		for _, n := range m.Nodes {
			b.nodes[n.Handle] = n
		}
	case scene.OpLayers:
		if m.Layers != nil {
			b.airports = len(m.Layers.Airports)
			b.routes = len(m.Layers.Routes)
		}
	case scene.OpCreate:
		b.nodes[m.Handle] = scene.Node{Handle: m.Handle, Template: m.Template}
	case scene.OpPosition:
		if n, ok := b.nodes[m.Handle]; ok && m.Position != nil {
			n.Position = *m.Position
			b.nodes[m.Handle] = n
		}
	case scene.OpOrientation:
		if n, ok := b.nodes[m.Handle]; ok && m.Up != nil && m.Target != nil {
			n.Up = *m.Up
			n.Target = *m.Target
			n.Oriented = true
			b.nodes[m.Handle] = n
		}
	case scene.OpLabel:
		if n, ok := b.nodes[m.Handle]; ok {
			n.Label = m.Label
			b.nodes[m.Handle] = n
		}
	case scene.OpDestroy:
		delete(b.nodes, m.Handle)
	}
}

// rows returns the flights sorted by label.
func (b *board) rows() []flightRow {
	out := make([]flightRow, 0, len(b.nodes))
	for _, n := range b.nodes {
		geo := geodesy.ToGeodetic(n.Position)
		row := flightRow{
			Handle:   n.Handle,
			Label:    n.Label,
			Lat:      geo.Lat,
			Lon:      geo.Lon,
			Alt:      geo.Alt,
			Oriented: n.Oriented,
		}
		if n.Oriented {
			row.Heading = headingOf(n.Position, n.Target)
		}
		out = append(out, row)
	}
	slices.SortFunc(out, func(a, b flightRow) int {
		return cmp.Or(cmp.Compare(a.Label, b.Label), cmp.Compare(a.Handle, b.Handle))
	})
	return out
}

// headingOf recovers the compass heading of a node from its look target.
func headingOf(position, target geodesy.Vec3) float64 {
	f, err := geodesy.LocalFrame(position)
	if err != nil {
		return 0
	}
	fwd := target.Sub(position)
	deg := math.Atan2(fwd.Dot(f.East), fwd.Dot(f.North)) * geodesy.RadiansToDegrees
	return geodesy.NormalizeHeading(deg)
}
