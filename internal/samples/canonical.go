package samples

import (
	"bytes"

	"github.com/gowebpki/jcs"
)

// Equal reports whether two packs hold identical content. Identity is
// (name, loops): loop records are canonicalized with RFC 8785 JCS before
// byte comparison, so equivalent JSON in different key order or number
// notation compares equal. A loop that cannot be canonicalized never
// compares equal.
func Equal(a, b *Pack) bool {
	if a == nil || b == nil {
		return a == b
	}

	if a.Name != b.Name || len(a.Loops) != len(b.Loops) {
		return false
	}

	for i := range a.Loops {
		ca, err := jcs.Transform(a.Loops[i])
		if err != nil {
			return false
		}

		cb, err := jcs.Transform(b.Loops[i])
		if err != nil {
			return false
		}

		if !bytes.Equal(ca, cb) {
			return false
		}
	}

	return true
}

// CollectionsEqual reports whether two fully materialized collections
// hold the same packs in the same slots.
func CollectionsEqual(a, b Collection) bool {
	if len(a) != NumSlots || len(b) != NumSlots {
		return false
	}

	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}

	return true
}
