package render

import (
	"fmt"
	"slices"
	"sort"
)

// FieldKind is the editor control a slot value came from.
type FieldKind string

const (
	KindText     FieldKind = "text"
	KindRichText FieldKind = "rich_text"
	KindFlag     FieldKind = "flag"
	KindChoice   FieldKind = "choice"
)

// Valid reports whether k is a known kind.
func (k FieldKind) Valid() bool {
	switch k {
	case KindText, KindRichText, KindFlag, KindChoice:
		return true
	}
	return false
}

// Field is one slot value.
type Field struct {
	Kind FieldKind `json:"kind"`
	Text string    `json:"text,omitempty"`
	Flag bool      `json:"flag,omitempty"`
}

// Text returns a plain text field.
func Text(s string) Field { return Field{Kind: KindText, Text: s} }

// RichText returns a text field that supports **highlight** markers.
func RichText(s string) Field { return Field{Kind: KindRichText, Text: s} }

// Flag returns a checkbox field.
func Flag(set bool) Field { return Field{Kind: KindFlag, Flag: set} }

// Choice returns a dropdown field.
func Choice(s string) Field { return Field{Kind: KindChoice, Text: s} }

// FieldSet maps slot names to values.
type FieldSet map[string]Field

// SlotSpec declares how a named slot is rendered.
type SlotSpec struct {
	Kind FieldKind `json:"kind"`
	// Tag wraps the rendered value, e.g. "h1" or "p". Empty inserts it bare.
	Tag   string `json:"tag,omitempty"`
	Class string `json:"class,omitempty"`
	// Choices restricts a choice slot. Empty accepts any value; values are
	// inserted HTML-escaped.
	Choices []string `json:"choices,omitempty"`
	// Default makes the slot optional.
	Default *Field `json:"default,omitempty"`
	// FlagMarkup is inserted when a flag is set. Empty inserts "true".
	FlagMarkup string `json:"flag_markup,omitempty"`
}

// DefaultCaptureSelector is captured when a template names none.
const DefaultCaptureSelector = ".container"

// DefaultHighlightClass styles **highlighted** rich text.
const DefaultHighlightClass = "yellow"

// TemplateSpec is a parameterised markup template.
type TemplateSpec struct {
	Name string `json:"name"`
	// Markup holds {name} placeholders. Literal braces are written {{ and }}.
	Markup           string              `json:"markup"`
	RequiredSlots    []string            `json:"required_slots,omitempty"`
	Slots            map[string]SlotSpec `json:"slots,omitempty"`
	CaptureSelector  string              `json:"capture_selector,omitempty"`
	HighlightClass   string              `json:"highlight_class,omitempty"`
	AllowedCropTypes []string            `json:"allowed_crop_types,omitempty"`
}

func (t TemplateSpec) selector() string {
	if t.CaptureSelector != "" {
		return t.CaptureSelector
	}
	return DefaultCaptureSelector
}

func (t TemplateSpec) highlightClass() string {
	if t.HighlightClass != "" {
		return t.HighlightClass
	}
	return DefaultHighlightClass
}

// AllowsCrop reports whether the template accepts the crop type. A template
// with no list accepts any.
func (t TemplateSpec) AllowsCrop(cropType string) bool {
	return len(t.AllowedCropTypes) == 0 || slices.Contains(t.AllowedCropTypes, cropType)
}

// Validate checks fields against the template without rendering anything.
func (t TemplateSpec) Validate(fields FieldSet) error {
	if t.Markup == "" {
		return &RenderError{Kind: InvalidField, Err: fmt.Errorf("template %q has no markup", t.Name)}
	}

	for _, name := range t.RequiredSlots {
		if _, ok := fields[name]; ok {
			continue
		}
		if slot, ok := t.Slots[name]; ok && slot.Default != nil {
			continue
		}
		return &RenderError{Kind: MissingSlot, Slot: name, Err: fmt.Errorf("slot %q is required", name)}
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		f := fields[name]
		slot, declared := t.Slots[name]
		kind := f.Kind
		if kind == "" && declared {
			kind = slot.Kind
		}
		if kind == "" {
			kind = KindText
		}
		if !kind.Valid() {
			return &RenderError{Kind: InvalidField, Slot: name, Err: fmt.Errorf("unknown field kind %q", kind)}
		}
		if !declared {
			continue
		}
		if slot.Kind != "" && slot.Kind != kind {
			return &RenderError{Kind: InvalidField, Slot: name, Err: fmt.Errorf("slot %q expects %s, got %s", name, slot.Kind, kind)}
		}
		if kind == KindChoice && len(slot.Choices) > 0 && !slices.Contains(slot.Choices, f.Text) {
			return &RenderError{Kind: InvalidField, Slot: name, Err: fmt.Errorf("slot %q: %q is not one of %v", name, f.Text, slot.Choices)}
		}
	}
	return nil
}

// values renders every field and slot default into placeholder values.
func (t TemplateSpec) values(fields FieldSet) map[string]string {
	out := make(map[string]string, len(fields)+len(t.Slots))
	for name, slot := range t.Slots {
		if slot.Default != nil {
			out[name] = renderField(*slot.Default, slot, t.highlightClass())
		}
	}
	for name, f := range fields {
		slot := t.Slots[name]
		if f.Kind == "" {
			f.Kind = slot.Kind
		}
		out[name] = renderField(f, slot, t.highlightClass())
	}
	return out
}
