package yaml

import (
	"fmt"

	"github.com/goccy/go-yaml"
)

// NewPathBuilder returns an empty [yaml.PathBuilder].
func NewPathBuilder() *yaml.PathBuilder {
	return &yaml.PathBuilder{}
}

// PathTo returns the path reached from the document root through keys. An
// int key selects a sequence entry, any other key selects a mapping key.
func PathTo(keys ...any) *yaml.Path {
	pb := NewPathBuilder().Root()

	for _, key := range keys {
		switch k := key.(type) {
		case int:
			pb = pb.Index(uint(max(k, 0))) //nolint:gosec // G115: clamped to zero.
		case string:
			pb = pb.Child(k)
		default:
			pb = pb.Child(fmt.Sprint(k))
		}
	}

	return pb.Build()
}
