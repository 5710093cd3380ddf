package domain

import (
	"fmt"
	"time"
)

// ElementType is the closed set of drawable kinds.
type ElementType string

const (
	ElementFreehand  ElementType = "freehand"
	ElementRectangle ElementType = "rectangle"
	ElementCircle    ElementType = "circle"
	ElementArrow     ElementType = "arrow"
	ElementLine      ElementType = "line"
	ElementText      ElementType = "text"
)

// ValidElementType reports whether t is a member of the closed set.
func ValidElementType(t ElementType) bool {
	switch t {
	case ElementFreehand, ElementRectangle, ElementCircle, ElementArrow, ElementLine, ElementText:
		return true
	}
	return false
}

// ElementProperties is the geometry and style payload of an element. Which
// fields are meaningful depends on the element type.
type ElementProperties struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width,omitempty"`
	Height      float64 `json:"height,omitempty"`
	Points      []Point `json:"points,omitempty"`
	Text        string  `json:"text,omitempty"`
	FontSize    float64 `json:"fontSize,omitempty"`
	StrokeColor string  `json:"strokeColor"`
	FillColor   string  `json:"fillColor,omitempty"`
	StrokeWidth float64 `json:"strokeWidth"`
	Opacity     float64 `json:"opacity"`
	Rotation    float64 `json:"rotation"`
}

// ElementPatch is a shallow partial update of ElementProperties. Nil fields
// are preserved on merge.
type ElementPatch struct {
	X           *float64 `json:"x,omitempty"`
	Y           *float64 `json:"y,omitempty"`
	Width       *float64 `json:"width,omitempty"`
	Height      *float64 `json:"height,omitempty"`
	Points      []Point  `json:"points,omitempty"`
	Text        *string  `json:"text,omitempty"`
	FontSize    *float64 `json:"fontSize,omitempty"`
	StrokeColor *string  `json:"strokeColor,omitempty"`
	FillColor   *string  `json:"fillColor,omitempty"`
	StrokeWidth *float64 `json:"strokeWidth,omitempty"`
	Opacity     *float64 `json:"opacity,omitempty"`
	Rotation    *float64 `json:"rotation,omitempty"`
}

// Apply merges the patch into p, field by field.
func (p *ElementProperties) Apply(patch ElementPatch) {
	if patch.X != nil {
		p.X = *patch.X
	}
	if patch.Y != nil {
		p.Y = *patch.Y
	}
	if patch.Width != nil {
		p.Width = *patch.Width
	}
	if patch.Height != nil {
		p.Height = *patch.Height
	}
	if patch.Points != nil {
		p.Points = append([]Point(nil), patch.Points...)
	}
	if patch.Text != nil {
		p.Text = *patch.Text
	}
	if patch.FontSize != nil {
		p.FontSize = *patch.FontSize
	}
	if patch.StrokeColor != nil {
		p.StrokeColor = *patch.StrokeColor
	}
	if patch.FillColor != nil {
		p.FillColor = *patch.FillColor
	}
	if patch.StrokeWidth != nil {
		p.StrokeWidth = *patch.StrokeWidth
	}
	if patch.Opacity != nil {
		p.Opacity = *patch.Opacity
	}
	if patch.Rotation != nil {
		p.Rotation = *patch.Rotation
	}
}

// Element is one versioned drawable object in a room's shared document.
// Version starts at 1 and increases by exactly one on every accepted update
// or delete. A soft-deleted element stays in the store as a tombstone so that
// stale updates are rejected instead of resurrecting it.
type Element struct {
	ID         string            `json:"id"`
	Type       ElementType       `json:"type"`
	Properties ElementProperties `json:"properties"`
	Version    uint64            `json:"version"`
	IsDeleted  bool              `json:"isDeleted"`
	CreatedBy  string            `json:"createdBy"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// ValidateProperties checks that the payload carries the geometry its type
// requires. Called at the message-dispatch boundary, the store trusts its
// input.
func ValidateProperties(t ElementType, props ElementProperties) error {
	if !ValidElementType(t) {
		return fmt.Errorf("unknown element type %q", t)
	}
	switch t {
	case ElementFreehand:
		if len(props.Points) < 2 {
			return fmt.Errorf("freehand element requires at least 2 points, got %d", len(props.Points))
		}
	case ElementArrow, ElementLine:
		if len(props.Points) != 2 {
			return fmt.Errorf("%s element requires exactly 2 points, got %d", t, len(props.Points))
		}
	case ElementRectangle, ElementCircle:
		if props.Width <= 0 || props.Height <= 0 {
			return fmt.Errorf("%s element requires positive width and height", t)
		}
	case ElementText:
		if props.Text == "" {
			return fmt.Errorf("text element requires non-empty text")
		}
	}
	if props.StrokeWidth < 0 {
		return fmt.Errorf("strokeWidth must not be negative")
	}
	return nil
}
