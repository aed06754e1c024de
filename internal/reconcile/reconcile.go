// Package reconcile keeps the set of rendered flight entities in step with the
// latest batch of flight records.
//
// Each poll cycle Reconcile retires entities whose aircraft left the feed,
// creates entities for new aircraft, and moves and re-orients the rest.
// Reconcile must only be called from one goroutine at a time; any goroutine
// may call Snapshot.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/unklstewy/flightglobe/pkg/flights"
	"github.com/unklstewy/flightglobe/pkg/geodesy"
)

// ErrTemplateNotReady is returned when the shared aircraft template has not
// finished loading. The reconcile call made no changes.
var ErrTemplateNotReady = errors.New("render template not ready")

// Handle is an opaque reference to a node in the external scene graph.
type Handle string

// Renderer is the scene-graph collaborator driven by the reconciler.
type Renderer interface {
	// CreateHandle instantiates a node from the shared template.
	CreateHandle(templateID string) (Handle, error)

	// SetPosition moves the node to an ECEF position.
	SetPosition(h Handle, position geodesy.Vec3) error

	// SetOrientation aligns the node's local up axis with up and makes it
	// face lookTarget.
	SetOrientation(h Handle, up, lookTarget geodesy.Vec3) error

	// DestroyHandle removes the node and releases its resources.
	DestroyHandle(h Handle) error
}

// Labeler is optionally implemented by a Renderer that can display a text
// label next to a node.
type Labeler interface {
	SetLabel(h Handle, label string) error
}

// Templates reports whether a template asset is loaded.
type Templates interface {
	Ready(templateID string) bool
}

// Observer receives the outcome of every reconcile call.
type Observer interface {
	Reconciled(res Result, tracked int)
}

// Entity is a rendered flight.
type Entity struct {
	ICAO24 string `json:"icao24"`
	Label  string `json:"label"`

	// Position is the ECEF position in meters
	Position geodesy.Vec3 `json:"position"`

	// Up is the local vertical at Position
	Up geodesy.Vec3 `json:"up"`

	// OrientationTarget is the point the model faces: Position + forward
	OrientationTarget geodesy.Vec3 `json:"orientation_target"`

	// Heading in degrees, 0 = North, clockwise
	Heading  float64 `json:"heading"`
	Altitude float64 `json:"altitude"`

	// Oriented is false when no local frame exists at Position
	Oriented bool `json:"oriented"`

	Handle Handle `json:"handle"`
}

// Result counts what a reconcile call did.
type Result struct {
	Created   int
	Updated   int
	Retired   int
	Unchanged int

	// Failed counts records whose entity could not be created
	Failed int
}

// Reconciler owns the map from ICAO24 to rendered entity.
type Reconciler struct {
	renderer   Renderer
	labeler    Labeler
	templates  Templates
	templateID string
	observer   Observer
	logger     *slog.Logger

	// entities is only touched by Reconcile
	entities map[string]*Entity

	snapshot atomic.Pointer[[]Entity]
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithObserver attaches an instrumentation observer.
func WithObserver(o Observer) Option {
	return func(r *Reconciler) { r.observer = o }
}

// WithLogger sets the logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// New creates a Reconciler that instantiates templateID through renderer.
// If renderer also implements Labeler, entities are labelled with their
// callsign.
func New(renderer Renderer, templates Templates, templateID string, opts ...Option) *Reconciler {
	r := &Reconciler{
		renderer:   renderer,
		templates:  templates,
		templateID: templateID,
		logger:     slog.New(slog.DiscardHandler),
		entities:   make(map[string]*Entity),
	}
	if l, ok := renderer.(Labeler); ok {
		r.labeler = l
	}
	for _, opt := range opts {
		opt(r)
	}
	empty := []Entity{}
	r.snapshot.Store(&empty)
	return r
}

// Reconcile brings the entity set in line with records.
//
// Entities whose ICAO24 is absent from records are retired before any entity
// is created. If ctx is already done or the template is not loaded the call
// returns without touching any entity; once started it always runs to
// completion so the tracked set matches records. When records repeats an
// ICAO24 the last occurrence wins.
func (r *Reconciler) Reconcile(ctx context.Context, records []flights.Record) (Result, error) {
	var res Result

	if err := ctx.Err(); err != nil {
		return res, err
	}
	if !r.templates.Ready(r.templateID) {
		return res, ErrTemplateNotReady
	}

	latest := make(map[string]flights.Record, len(records))
	order := make([]string, 0, len(records))
	for _, rec := range records {
		if _, seen := latest[rec.ICAO24]; !seen {
			order = append(order, rec.ICAO24)
		}
		latest[rec.ICAO24] = rec
	}

	// Retire first so a reused identifier never meets a stale handle
	for icao, ent := range r.entities {
		if _, ok := latest[icao]; ok {
			continue
		}
		if err := r.renderer.DestroyHandle(ent.Handle); err != nil {
			r.logger.Warn("destroy handle failed", "icao24", icao, "handle", ent.Handle, "error", err)
		}
		delete(r.entities, icao)
		res.Retired++
	}

	for _, icao := range order {
		rec := latest[icao]
		pose := poseFor(rec)

		ent, exists := r.entities[icao]
		if !exists {
			h, err := r.renderer.CreateHandle(r.templateID)
			if err != nil {
				r.logger.Warn("create handle failed", "icao24", icao, "error", err)
				res.Failed++
				continue
			}
			ent = &Entity{ICAO24: icao, Handle: h}
			r.entities[icao] = ent
			r.apply(ent, rec, pose, true)
			res.Created++
			continue
		}

		if ent.Position == pose.position && ent.OrientationTarget == pose.target &&
			ent.Up == pose.up && ent.Label == rec.Label() {
			res.Unchanged++
			continue
		}
		r.apply(ent, rec, pose, false)
		res.Updated++
	}

	r.publish(res)
	return res, nil
}

// Snapshot returns the entities committed by the last Reconcile, sorted by
// ICAO24. The slice is shared and must not be modified.
func (r *Reconciler) Snapshot() []Entity {
	return *r.snapshot.Load()
}

// Len returns the number of tracked entities as of the last Reconcile.
func (r *Reconciler) Len() int {
	return len(*r.snapshot.Load())
}

// Reset retires every entity.
func (r *Reconciler) Reset() {
	for icao, ent := range r.entities {
		if err := r.renderer.DestroyHandle(ent.Handle); err != nil {
			r.logger.Warn("destroy handle failed", "icao24", icao, "handle", ent.Handle, "error", err)
		}
		delete(r.entities, icao)
	}
	r.publish(Result{})
}

type pose struct {
	position geodesy.Vec3
	up       geodesy.Vec3
	target   geodesy.Vec3
	oriented bool
}

// poseFor computes where an aircraft sits and which way it faces.
func poseFor(rec flights.Record) pose {
	p := pose{position: geodesy.ToCartesian(rec.Latitude, rec.Longitude, rec.Altitude)}

	frame, err := geodesy.LocalFrame(p.position)
	if err != nil {
		return p
	}
	forward := geodesy.HeadingVector(frame, rec.Heading)
	p.up = frame.Up
	p.target = p.position.Add(forward)
	p.oriented = true
	return p
}

// apply pushes a pose to the renderer and records it on the entity.
func (r *Reconciler) apply(ent *Entity, rec flights.Record, p pose, created bool) {
	if err := r.renderer.SetPosition(ent.Handle, p.position); err != nil {
		r.logger.Warn("set position failed", "icao24", ent.ICAO24, "error", err)
	}

	if p.oriented {
		if err := r.renderer.SetOrientation(ent.Handle, p.up, p.target); err != nil {
			r.logger.Warn("set orientation failed", "icao24", ent.ICAO24, "error", err)
		}
	} else {
		r.logger.Debug("no local frame, orientation skipped",
			"icao24", ent.ICAO24, "lat", rec.Latitude, "lon", rec.Longitude)
	}

	label := rec.Label()
	if r.labeler != nil && (created || label != ent.Label) {
		if err := r.labeler.SetLabel(ent.Handle, label); err != nil {
			r.logger.Warn("set label failed", "icao24", ent.ICAO24, "error", err)
		}
	}

	ent.Label = label
	ent.Position = p.position
	ent.Up = p.up
	ent.OrientationTarget = p.target
	ent.Oriented = p.oriented
	ent.Heading = rec.Heading
	ent.Altitude = rec.Altitude
}

// publish stores an immutable copy of the entity map for readers.
func (r *Reconciler) publish(res Result) {
	snap := make([]Entity, 0, len(r.entities))
	for _, ent := range r.entities {
		snap = append(snap, *ent)
	}
	sort.Slice(snap, func(i, j int) bool { return snap[i].ICAO24 < snap[j].ICAO24 })
	r.snapshot.Store(&snap)

	if r.observer != nil {
		r.observer.Reconciled(res, len(snap))
	}
}
