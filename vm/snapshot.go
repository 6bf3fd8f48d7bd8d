package vm

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/chazu/mote/heap"
	"github.com/fxamacker/cbor/v2"
)

// cborEncMode uses canonical encoding so equal snapshots encode to equal
// bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Snapshot is a point-in-time image of an interpreter's heap and visible
// bindings, for offline inspection.
type Snapshot struct {
	TakenAt   time.Time         `cbor:"1,keyasint"`
	Placement string            `cbor:"2,keyasint"`
	Capacity  int               `cbor:"3,keyasint"`
	Cycles    int               `cbor:"4,keyasint"`
	Nodes     []SnapshotNode    `cbor:"5,keyasint"`
	Bindings  []SnapshotBinding `cbor:"6,keyasint"`
}

// SnapshotNode describes one heap node. Free nodes carry no object fields.
type SnapshotNode struct {
	Ref      uint32   `cbor:"1,keyasint"`
	Size     int      `cbor:"2,keyasint"`
	State    uint8    `cbor:"3,keyasint"`
	Tag      uint8    `cbor:"4,keyasint,omitempty"`
	Flags    uint8    `cbor:"5,keyasint,omitempty"`
	Children []uint32 `cbor:"6,keyasint,omitempty"`
	Value    string   `cbor:"7,keyasint,omitempty"`
}

// SnapshotBinding is a visible binding at snapshot time.
type SnapshotBinding struct {
	Name  string `cbor:"1,keyasint"`
	Ref   uint32 `cbor:"2,keyasint"`
	Const bool   `cbor:"3,keyasint,omitempty"`
}

// TakeSnapshot captures the interpreter's heap. It does not allocate in the
// heap and may be called between runs.
func (in *Interp) TakeSnapshot() *Snapshot {
	s := &Snapshot{
		TakenAt:   time.Now().UTC(),
		Placement: in.heap.Placement().Name(),
		Capacity:  in.heap.Capacity(),
		Cycles:    in.gc.Cycles(),
	}
	for n := range in.heap.Nodes() {
		sn := SnapshotNode{Ref: uint32(n.Ref), Size: n.Size, State: uint8(n.State)}
		if n.State != heap.Free && n.Size >= ObjectHeaderSize {
			hdr := ReadHeader(in.heap, n.Ref)
			sn.Tag, sn.Flags = uint8(hdr.Tag), uint8(hdr.Flags)
			if hdr.Tag.Valid() {
				Children(in.heap, n.Ref, func(c heap.Ref) {
					sn.Children = append(sn.Children, uint32(c))
				})
				sn.Value = in.scalarText(n.Ref, hdr.Tag)
			}
		}
		s.Nodes = append(s.Nodes, sn)
	}
	for _, b := range in.env.Visible() {
		s.Bindings = append(s.Bindings, SnapshotBinding{Name: b.Name, Ref: uint32(b.Value), Const: b.Const})
	}
	return s
}

// scalarText renders leaf values whose text is short and self-contained.
func (in *Interp) scalarText(r heap.Ref, t TypeTag) string {
	switch t {
	case TypeNull, TypeBool, TypeInt, TypeFloat, TypeString, TypeRange:
		return in.Repr(r)
	}
	return ""
}

// Live returns the nodes that hold objects.
func (s *Snapshot) Live() []SnapshotNode {
	var live []SnapshotNode
	for _, n := range s.Nodes {
		if heap.NodeState(n.State) != heap.Free {
			live = append(live, n)
		}
	}
	return live
}

// WriteText writes a table of the snapshot's nodes and bindings.
func (s *Snapshot) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "snapshot %s placement=%s capacity=%d cycles=%d\n",
		s.TakenAt.Format(time.RFC3339), s.Placement, s.Capacity, s.Cycles)
	fmt.Fprintln(tw, "REF\tSIZE\tSTATE\tTYPE\tCHILDREN\tVALUE")
	for _, n := range s.Nodes {
		typ := "-"
		if heap.NodeState(n.State) != heap.Free {
			typ = TypeTag(n.Tag).String()
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%v\t%s\n", n.Ref, n.Size, heap.NodeState(n.State), typ, n.Children, n.Value)
	}
	fmt.Fprintln(tw, "BINDING\tREF\tCONST")
	for _, b := range s.Bindings {
		fmt.Fprintf(tw, "%s\t%d\t%t\n", b.Name, b.Ref, b.Const)
	}
	return tw.Flush()
}

// MarshalSnapshot serializes a Snapshot to CBOR bytes.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// UnmarshalSnapshot deserializes a Snapshot from CBOR bytes.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("vm: unmarshal snapshot: %w", err)
	}
	return &s, nil
}
