package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandPath(t *testing.T) {
	tests := []struct {
		path string
		want []PathSegment
	}{
		{"*.*.*", []PathSegment{nil, nil, nil}},
		{"*/*/*", []PathSegment{nil, nil, nil}},
		{"a.*.foo", []PathSegment{{"a"}, nil, {"foo"}}},
		{"a.b.foo", []PathSegment{{"a"}, {"b"}, {"foo"}}},
		{"a.b|c.foo", []PathSegment{{"a"}, {"b", "c"}, {"foo"}}},
		{"a.b|c.foo|bar", []PathSegment{{"a"}, {"b", "c"}, {"foo", "bar"}}},
		{"a.b|c.foo|bar|baz", []PathSegment{{"a"}, {"b", "c"}, {"foo", "bar", "baz"}}},
		{"a/b|c/foo|bar|baz", []PathSegment{{"a"}, {"b", "c"}, {"foo", "bar", "baz"}}},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandPath(tt.path))
		})
	}
}

func TestPadPath(t *testing.T) {
	padded := PadPath(ExpandPath("w"), 3)
	assert.Equal(t, []PathSegment{nil, nil, {"w"}}, padded)
	assert.True(t, padded[0].Any())
	assert.Equal(t, "w", padded[2].String())

	assert.Equal(t, []PathSegment{{"b"}, {"c"}}, PadPath(ExpandPath("a.b.c"), 2))
}

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "p/cq/w", JoinPath("p", "cq", "w"))
	assert.Equal(t, "w", JoinPath("", "", "w"))
}
