package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collaborative-canvas/internal/domain"
)

func float64Ptr(v float64) *float64 { return &v }
func stringPtr(v string) *string    { return &v }

func TestElementPatch_Apply_MergesOnlySetFields(t *testing.T) {
	props := domain.ElementProperties{
		X:           10,
		Y:           20,
		Width:       100,
		Height:      50,
		StrokeColor: "#000000",
		FillColor:   "#ffffff",
		StrokeWidth: 2,
		Opacity:     1,
	}

	props.Apply(domain.ElementPatch{
		X:           float64Ptr(42),
		StrokeColor: stringPtr("#ff0000"),
	})

	assert.Equal(t, 42.0, props.X, "patched field should change")
	assert.Equal(t, "#ff0000", props.StrokeColor)
	// Everything absent from the patch is preserved.
	assert.Equal(t, 20.0, props.Y)
	assert.Equal(t, 100.0, props.Width)
	assert.Equal(t, 50.0, props.Height)
	assert.Equal(t, "#ffffff", props.FillColor)
	assert.Equal(t, 2.0, props.StrokeWidth)
	assert.Equal(t, 1.0, props.Opacity)
}

func TestElementPatch_Apply_ZeroValueIsExplicit(t *testing.T) {
	props := domain.ElementProperties{Opacity: 1, Rotation: 45}

	// A pointer to zero is a real update, unlike a nil pointer.
	props.Apply(domain.ElementPatch{Opacity: float64Ptr(0), Rotation: nil})

	assert.Equal(t, 0.0, props.Opacity)
	assert.Equal(t, 45.0, props.Rotation)
}

func TestElementPatch_Apply_ReplacesPoints(t *testing.T) {
	props := domain.ElementProperties{
		Points: []domain.Point{{X: 0, Y: 0}, {X: 1, Y: 1}},
	}
	newPoints := []domain.Point{{X: 5, Y: 5}, {X: 6, Y: 6}, {X: 7, Y: 7}}

	props.Apply(domain.ElementPatch{Points: newPoints})

	require.Len(t, props.Points, 3)
	assert.Equal(t, newPoints, props.Points)

	// The patch slice is copied, mutating the caller's slice afterwards must
	// not leak into the stored properties.
	newPoints[0].X = 99
	assert.Equal(t, 5.0, props.Points[0].X)
}

func TestValidElementType(t *testing.T) {
	for _, typ := range []domain.ElementType{
		domain.ElementFreehand, domain.ElementRectangle, domain.ElementCircle,
		domain.ElementArrow, domain.ElementLine, domain.ElementText,
	} {
		assert.True(t, domain.ValidElementType(typ), string(typ))
	}
	assert.False(t, domain.ValidElementType("triangle"))
	assert.False(t, domain.ValidElementType(""))
}

func TestValidateProperties(t *testing.T) {
	twoPoints := []domain.Point{{X: 0, Y: 0}, {X: 10, Y: 10}}

	tests := []struct {
		name    string
		typ     domain.ElementType
		props   domain.ElementProperties
		wantErr bool
	}{
		{"freehand with enough points", domain.ElementFreehand, domain.ElementProperties{Points: twoPoints}, false},
		{"freehand with one point", domain.ElementFreehand, domain.ElementProperties{Points: twoPoints[:1]}, true},
		{"line with two points", domain.ElementLine, domain.ElementProperties{Points: twoPoints}, false},
		{"line with three points", domain.ElementLine, domain.ElementProperties{Points: append(twoPoints, domain.Point{})}, true},
		{"arrow without points", domain.ElementArrow, domain.ElementProperties{}, true},
		{"rectangle with size", domain.ElementRectangle, domain.ElementProperties{Width: 10, Height: 10}, false},
		{"rectangle without height", domain.ElementRectangle, domain.ElementProperties{Width: 10}, true},
		{"circle with negative width", domain.ElementCircle, domain.ElementProperties{Width: -1, Height: 10}, true},
		{"text with content", domain.ElementText, domain.ElementProperties{Text: "hello"}, false},
		{"text without content", domain.ElementText, domain.ElementProperties{}, true},
		{"negative stroke width", domain.ElementRectangle, domain.ElementProperties{Width: 1, Height: 1, StrokeWidth: -2}, true},
		{"unknown type", domain.ElementType("star"), domain.ElementProperties{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := domain.ValidateProperties(tt.typ, tt.props)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
