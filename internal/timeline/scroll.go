package timeline

// ElementKind distinguishes waveform bars from live error markers.
type ElementKind int

const (
	KindBar ElementKind = iota
	KindMarker
)

func (k ElementKind) String() string {
	if k == KindMarker {
		return "marker"
	}
	return "bar"
}

// Element is a rendered item that scrolls away from the live edge.
type Element struct {
	ID      string
	Kind    ElementKind
	Created float64 // clock ms
	Height  float64
}

// Positioned is an element with its current offset from the live edge in px.
type Positioned struct {
	Element
	Offset float64
}

// ScrollRenderer keeps the ordered set of live elements. An element's offset
// depends only on elapsed time, so scroll speed is independent of frame rate.
//
// A ScrollRenderer is not safe for concurrent use.
type ScrollRenderer struct {
	speed    float64 // px per second
	width    float64 // px
	elements []Element

	// OnRemove runs for every element pruned or removed.
	OnRemove func(Element)
}

func NewScrollRenderer(speed, width float64) *ScrollRenderer {
	return &ScrollRenderer{speed: speed, width: width}
}

// Offset is (now - created)/1000 * speed.
func (r *ScrollRenderer) Offset(el Element, now float64) float64 {
	return (now - el.Created) / 1000 * r.speed
}

// Append adds an element at the live edge. Callers append before the Tick of
// the same frame so the newest element is never pruned first.
func (r *ScrollRenderer) Append(el Element) {
	r.elements = append(r.elements, el)
}

// Tick recomputes every offset at now, prunes elements that scrolled past the
// visible width and returns the remaining ones in creation order.
func (r *ScrollRenderer) Tick(now float64) []Positioned {
	visible := make([]Positioned, 0, len(r.elements))
	kept := r.elements[:0]
	for _, el := range r.elements {
		offset := r.Offset(el, now)
		if offset > r.width {
			if r.OnRemove != nil {
				r.OnRemove(el)
			}
			continue
		}
		kept = append(kept, el)
		visible = append(visible, Positioned{Element: el, Offset: offset})
	}
	r.elements = kept
	return visible
}

// Remove drops the element with the given id. It reports whether one was found.
func (r *ScrollRenderer) Remove(id string) bool {
	for i, el := range r.elements {
		if el.ID == id {
			r.elements = append(r.elements[:i], r.elements[i+1:]...)
			if r.OnRemove != nil {
				r.OnRemove(el)
			}
			return true
		}
	}
	return false
}

func (r *ScrollRenderer) Len() int {
	return len(r.elements)
}

func (r *ScrollRenderer) Width() float64 {
	return r.width
}

// Count returns how many live elements are of kind k.
func (r *ScrollRenderer) Count(k ElementKind) int {
	n := 0
	for _, el := range r.elements {
		if el.Kind == k {
			n++
		}
	}
	return n
}
