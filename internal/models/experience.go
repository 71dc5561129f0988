package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ExperienceBuffer is a fixed-capacity FIFO of corrective experience notes.
// Storage is a ring over a preallocated slice; appending beyond capacity
// overwrites the oldest slot.
//
// The zero value is usable and holds DefaultCorrectiveCapacity entries.
type ExperienceBuffer struct {
	slots []string
	start int // index of the oldest entry
	size  int
}

// NewExperienceBuffer creates an empty buffer with the given capacity.
func NewExperienceBuffer(capacity int) (ExperienceBuffer, error) {
	if capacity < 1 {
		return ExperienceBuffer{}, ErrInvalidCapacity
	}
	return ExperienceBuffer{slots: make([]string, capacity)}, nil
}

func (b *ExperienceBuffer) ensure() {
	if b.slots == nil {
		b.slots = make([]string, DefaultCorrectiveCapacity)
	}
}

// Cap returns the buffer's capacity.
func (b *ExperienceBuffer) Cap() int {
	if b.slots == nil {
		return DefaultCorrectiveCapacity
	}
	return len(b.slots)
}

// Len returns the number of retained notes.
func (b *ExperienceBuffer) Len() int {
	return b.size
}

// Append adds a note. When the buffer is full the oldest note is evicted and
// returned with evicted=true.
func (b *ExperienceBuffer) Append(note string) (dropped string, evicted bool) {
	b.ensure()
	capacity := len(b.slots)
	if b.size < capacity {
		b.slots[(b.start+b.size)%capacity] = note
		b.size++
		return "", false
	}
	dropped = b.slots[b.start]
	b.slots[b.start] = note
	b.start = (b.start + 1) % capacity
	return dropped, true
}

// Items returns the retained notes, oldest first.
func (b *ExperienceBuffer) Items() []string {
	out := make([]string, 0, b.size)
	for i := 0; i < b.size; i++ {
		out = append(out, b.slots[(b.start+i)%len(b.slots)])
	}
	return out
}

// Resize changes the capacity, keeping the newest notes that fit.
func (b *ExperienceBuffer) Resize(capacity int) error {
	if capacity < 1 {
		return ErrInvalidCapacity
	}
	items := b.Items()
	if len(items) > capacity {
		items = items[len(items)-capacity:]
	}
	b.slots = make([]string, capacity)
	b.start = 0
	b.size = 0
	for _, note := range items {
		b.Append(note)
	}
	return nil
}

// Clone returns an independent copy.
func (b *ExperienceBuffer) Clone() ExperienceBuffer {
	out := ExperienceBuffer{start: b.start, size: b.size}
	if b.slots != nil {
		out.slots = append([]string(nil), b.slots...)
	}
	return out
}

type experienceRecord struct {
	Capacity int      `json:"capacity"`
	Items    []string `json:"items"`
}

// MarshalJSON encodes the buffer as its capacity and ordered notes.
func (b ExperienceBuffer) MarshalJSON() ([]byte, error) {
	return json.Marshal(experienceRecord{Capacity: b.Cap(), Items: b.Items()})
}

// UnmarshalJSON restores a buffer. A bare JSON array is accepted and restored
// with the default capacity.
func (b *ExperienceBuffer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var rec experienceRecord
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &rec.Items); err != nil {
			return fmt.Errorf("failed to decode corrective experiences: %w", err)
		}
	} else if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("failed to decode corrective experiences: %w", err)
	}
	if rec.Capacity < 1 {
		rec.Capacity = DefaultCorrectiveCapacity
	}
	*b = ExperienceBuffer{slots: make([]string, rec.Capacity)}
	start := 0
	if len(rec.Items) > rec.Capacity {
		start = len(rec.Items) - rec.Capacity
	}
	for _, note := range rec.Items[start:] {
		b.Append(note)
	}
	return nil
}
