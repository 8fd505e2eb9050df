package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/BTreeMap/AssistPipe/internal/models"
)

func day(hour, minute int) time.Time {
	return time.Date(2024, 6, 11, hour, minute, 0, 0, time.UTC)
}

func TestSlotRangePartitionsWindow(t *testing.T) {
	slots := SlotRange(day(9, 0), day(17, 0), 30*time.Minute)
	if len(slots) != 16 {
		t.Fatalf("expected 16 half-hour slots in 9-17, got %d", len(slots))
	}
	for i, slot := range slots {
		if slot.End.Sub(slot.Start) != 30*time.Minute {
			t.Errorf("slot %d has wrong duration: %v", i, slot.End.Sub(slot.Start))
		}
		if i > 0 && !slot.Start.Equal(slots[i-1].End) {
			t.Errorf("slot %d is not consecutive with its predecessor", i)
		}
	}
	if !slots[0].Start.Equal(day(9, 0)) || !slots[15].End.Equal(day(17, 0)) {
		t.Errorf("slots do not cover the window: %v .. %v", slots[0].Start, slots[15].End)
	}
}

func TestSlotRangeDropsPartialFinalSlot(t *testing.T) {
	slots := SlotRange(day(9, 0), day(10, 45), 30*time.Minute)
	if len(slots) != 3 {
		t.Fatalf("expected 3 slots with the partial 10:30-10:45 dropped, got %d", len(slots))
	}
	if !slots[2].End.Equal(day(10, 30)) {
		t.Errorf("last slot ends at %v, want 10:30", slots[2].End)
	}
}

func TestOverlapsHalfOpenSemantics(t *testing.T) {
	slot := models.TimeSlot{Start: day(10, 0), End: day(10, 30)}
	tests := []struct {
		name string
		busy models.TimeSlot
		want bool
	}{
		{"identical", models.TimeSlot{Start: day(10, 0), End: day(10, 30)}, true},
		{"contains", models.TimeSlot{Start: day(9, 0), End: day(12, 0)}, true},
		{"partial head", models.TimeSlot{Start: day(9, 45), End: day(10, 15)}, true},
		{"partial tail", models.TimeSlot{Start: day(10, 15), End: day(11, 0)}, true},
		{"touches end", models.TimeSlot{Start: day(10, 30), End: day(11, 0)}, false},
		{"touches start", models.TimeSlot{Start: day(9, 30), End: day(10, 0)}, false},
		{"disjoint", models.TimeSlot{Start: day(14, 0), End: day(15, 0)}, false},
	}
	for _, tt := range tests {
		if got := Overlaps(slot, tt.busy); got != tt.want {
			t.Errorf("%s: Overlaps = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestFilterFree(t *testing.T) {
	slots := SlotRange(day(9, 0), day(12, 0), time.Hour)
	busy := []models.TimeSlot{{Start: day(10, 0), End: day(10, 30)}}
	free := FilterFree(slots, busy)
	if len(free) != 2 {
		t.Fatalf("expected 2 free slots, got %d", len(free))
	}
	if !free[0].Start.Equal(day(9, 0)) || !free[1].Start.Equal(day(11, 0)) {
		t.Errorf("unexpected free slots: %+v", free)
	}
}

func TestFreeSlotsAgainstMock(t *testing.T) {
	svc := NewMockService()
	svc.Busy = []models.TimeSlot{
		{Start: day(9, 0), End: day(9, 30)},
		{Start: day(13, 0), End: day(14, 0)},
	}
	free, err := FreeSlots(context.Background(), svc, day(0, 0), ListingStartHour, ListingEndHour, 30*time.Minute)
	if err != nil {
		t.Fatalf("FreeSlots failed: %v", err)
	}
	// 16 slots minus 09:00 and two 13:00-14:00 halves.
	if len(free) != 13 {
		t.Fatalf("expected 13 free slots, got %d", len(free))
	}
	for _, slot := range free {
		for _, b := range svc.Busy {
			if Overlaps(slot, b) {
				t.Errorf("free slot %v overlaps busy %v", slot, b)
			}
		}
	}
}

func TestHasConflict(t *testing.T) {
	svc := NewMockService()
	svc.Busy = []models.TimeSlot{{Start: day(15, 0), End: day(15, 30)}}

	conflict, err := HasConflict(context.Background(), svc, models.TimeSlot{Start: day(15, 0), End: day(15, 30)})
	if err != nil {
		t.Fatalf("HasConflict failed: %v", err)
	}
	if !conflict {
		t.Error("expected conflict for identical interval")
	}

	conflict, err = HasConflict(context.Background(), svc, models.TimeSlot{Start: day(15, 30), End: day(16, 0)})
	if err != nil {
		t.Fatalf("HasConflict failed: %v", err)
	}
	if conflict {
		t.Error("back-to-back interval should not conflict")
	}
}
