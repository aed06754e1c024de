package scene

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/unklstewy/flightglobe/internal/reconcile"
	"github.com/unklstewy/flightglobe/pkg/geodesy"
)

// Scene operations sent to clients.
const (
	OpSnapshot    = "snapshot"
	OpLayers      = "layers"
	OpCreate      = "create"
	OpPosition    = "position"
	OpOrientation = "orientation"
	OpLabel       = "label"
	OpDestroy     = "destroy"
)

// Encoding selects the frame format of a client.
type Encoding int

const (
	// EncodingJSON sends text frames
	EncodingJSON Encoding = iota

	// EncodingMsgpack sends binary frames
	EncodingMsgpack
)

func (e Encoding) String() string {
	if e == EncodingMsgpack {
		return "msgpack"
	}
	return "json"
}

// ParseEncoding maps the enc query parameter to an Encoding.
func ParseEncoding(s string) (Encoding, error) {
	switch s {
	case "", "json":
		return EncodingJSON, nil
	case "msgpack":
		return EncodingMsgpack, nil
	default:
		return EncodingJSON, fmt.Errorf("unknown encoding %q", s)
	}
}

// Message is one scene update.
type Message struct {
	Op       string           `json:"op" msgpack:"op"`
	Handle   reconcile.Handle `json:"handle,omitempty" msgpack:"handle,omitempty"`
	Template string           `json:"template,omitempty" msgpack:"template,omitempty"`
	Position *geodesy.Vec3    `json:"position,omitempty" msgpack:"position,omitempty"`
	Up       *geodesy.Vec3    `json:"up,omitempty" msgpack:"up,omitempty"`
	Target   *geodesy.Vec3    `json:"target,omitempty" msgpack:"target,omitempty"`
	Label    string           `json:"label,omitempty" msgpack:"label,omitempty"`

	// Nodes is set on snapshot messages
	Nodes []Node `json:"nodes,omitempty" msgpack:"nodes,omitempty"`

	// Layers is set on layers messages
	Layers *Layers `json:"layers,omitempty" msgpack:"layers,omitempty"`
}

// Node is the state of one scene node.
type Node struct {
	Handle   reconcile.Handle `json:"handle" msgpack:"handle"`
	Template string           `json:"template" msgpack:"template"`
	Label    string           `json:"label,omitempty" msgpack:"label,omitempty"`
	Position geodesy.Vec3     `json:"position" msgpack:"position"`
	Up       geodesy.Vec3     `json:"up" msgpack:"up"`
	Target   geodesy.Vec3     `json:"target" msgpack:"target"`
	Oriented bool             `json:"oriented" msgpack:"oriented"`
}

// Layers holds the static reference geometry drawn under the live traffic.
type Layers struct {
	Airports []Marker   `json:"airports" msgpack:"airports"`
	Routes   []Polyline `json:"routes" msgpack:"routes"`
}

// Marker is a point of interest on the globe.
type Marker struct {
	Code     string       `json:"code" msgpack:"code"`
	Name     string       `json:"name,omitempty" msgpack:"name,omitempty"`
	Country  string       `json:"country,omitempty" msgpack:"country,omitempty"`
	Position geodesy.Vec3 `json:"position" msgpack:"position"`
}

// Polyline is an arched route between two markers.
type Polyline struct {
	From   string         `json:"from" msgpack:"from"`
	To     string         `json:"to" msgpack:"to"`
	Points []geodesy.Vec3 `json:"points" msgpack:"points"`

	// DistanceNM is the great-circle length of the route
	DistanceNM float64 `json:"distance_nm" msgpack:"distance_nm"`

	// Bearing is the initial course from From, degrees clockwise from north
	Bearing float64 `json:"bearing" msgpack:"bearing"`
}

// Encode serializes m in the given encoding.
func Encode(m Message, enc Encoding) ([]byte, error) {
	if enc == EncodingMsgpack {
		return msgpack.Marshal(&m)
	}
	return json.Marshal(m)
}

// Decode parses a frame produced by Encode.
func Decode(data []byte, enc Encoding) (Message, error) {
	var m Message
	var err error
	if enc == EncodingMsgpack {
		err = msgpack.Unmarshal(data, &m)
	} else {
		err = json.Unmarshal(data, &m)
	}
	return m, err
}

// frameSet lazily encodes one message once per encoding.
type frameSet struct {
	msg    Message
	frames [2][]byte
	errs   [2]error
	done   [2]bool
}

func (f *frameSet) get(enc Encoding) ([]byte, error) {
	if !f.done[enc] {
		f.frames[enc], f.errs[enc] = Encode(f.msg, enc)
		f.done[enc] = true
	}
	return f.frames[enc], f.errs[enc]
}
