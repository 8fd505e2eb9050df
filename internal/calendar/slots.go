package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/BTreeMap/AssistPipe/internal/models"
)

// Working-window defaults, in local hours.
const (
	// ListingStartHour and ListingEndHour bound the free-slot listing shown
	// for availability queries.
	ListingStartHour = 9
	ListingEndHour   = 17
	// ConflictStartHour and ConflictEndHour bound the wider window searched
	// for alternatives after a booking conflict.
	ConflictStartHour = 8
	ConflictEndHour   = 18

	// DefaultSlotDuration is used when the user did not give a duration.
	DefaultSlotDuration = 30 * time.Minute

	// MaxAlternatives caps how many alternative slots are offered.
	MaxAlternatives = 5
)

// SlotRange partitions [windowStart, windowEnd) into consecutive slots of the
// given duration. A final partial slot that would cross windowEnd is dropped.
func SlotRange(windowStart, windowEnd time.Time, duration time.Duration) []models.TimeSlot {
	if duration <= 0 {
		return nil
	}
	var slots []models.TimeSlot
	for start := windowStart; start.Before(windowEnd); start = start.Add(duration) {
		end := start.Add(duration)
		if end.After(windowEnd) {
			break
		}
		slots = append(slots, models.TimeSlot{Start: start, End: end})
	}
	return slots
}

// Overlaps reports whether two half-open intervals intersect.
func Overlaps(a, b models.TimeSlot) bool {
	return a.Start.Before(b.End) && a.End.After(b.Start)
}

// FilterFree keeps the slots that overlap none of the busy intervals.
func FilterFree(slots, busy []models.TimeSlot) []models.TimeSlot {
	var free []models.TimeSlot
	for _, slot := range slots {
		conflict := false
		for _, b := range busy {
			if Overlaps(slot, b) {
				conflict = true
				break
			}
		}
		if !conflict {
			free = append(free, slot)
		}
	}
	return free
}

// FreeSlots returns the free duration-length slots on the given day between
// startHour and endHour, in the day's location.
func FreeSlots(ctx context.Context, svc Service, day time.Time, startHour, endHour int, duration time.Duration) ([]models.TimeSlot, error) {
	windowStart := time.Date(day.Year(), day.Month(), day.Day(), startHour, 0, 0, 0, day.Location())
	windowEnd := time.Date(day.Year(), day.Month(), day.Day(), endHour, 0, 0, 0, day.Location())

	busy, err := svc.BusyIntervals(ctx, windowStart, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("fetch busy intervals: %w", err)
	}
	return FilterFree(SlotRange(windowStart, windowEnd, duration), busy), nil
}

// HasConflict reports whether any busy interval overlaps the requested slot.
func HasConflict(ctx context.Context, svc Service, slot models.TimeSlot) (bool, error) {
	busy, err := svc.BusyIntervals(ctx, slot.Start, slot.End)
	if err != nil {
		return false, fmt.Errorf("fetch busy intervals: %w", err)
	}
	for _, b := range busy {
		if Overlaps(slot, b) {
			return true, nil
		}
	}
	return false, nil
}
