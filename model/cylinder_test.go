package model

import (
	"math"
	"testing"
)

func TestIssuanceForm_counterClamp(t *testing.T) {
	f := NewIssuanceForm("REQ-1")
	f.AdjustFull(-1)
	f.AdjustEmpty(-3)
	if f.FullCylindersIssued != 0 || f.EmptyCylindersReceived != 0 {
		t.Errorf("counters = %d/%d, want 0/0", f.FullCylindersIssued, f.EmptyCylindersReceived)
	}

	f.AdjustFull(3)
	f.AdjustFull(-1)
	if f.FullCylindersIssued != 2 {
		t.Errorf("FullCylindersIssued = %d, want 2", f.FullCylindersIssued)
	}
	f.AdjustFull(-10)
	if f.FullCylindersIssued != 0 {
		t.Errorf("FullCylindersIssued = %d, want 0", f.FullCylindersIssued)
	}
}

func TestIssuanceForm_counterSaturates(t *testing.T) {
	f := NewIssuanceForm("REQ-1")
	f.AdjustFull(5)
	f.AdjustFull(math.MaxInt)
	if f.FullCylindersIssued != math.MaxInt {
		t.Errorf("FullCylindersIssued = %d, want math.MaxInt", f.FullCylindersIssued)
	}
	f.AdjustEmpty(math.MinInt)
	if f.EmptyCylindersReceived != 0 {
		t.Errorf("EmptyCylindersReceived = %d, want 0", f.EmptyCylindersReceived)
	}
}

func TestIssuanceForm_Tags(t *testing.T) {
	f := NewIssuanceForm("REQ-1")
	f.Tags(TagSideIssued).Add("RF-A")
	f.Tags(TagSideReceived).Add("RF-B")
	if len(f.IssuedTags) != 1 || len(f.ReceivedTags) != 1 {
		t.Errorf("tags = %v / %v", f.IssuedTags, f.ReceivedTags)
	}
	if f.Tags("bogus") != nil {
		t.Error("Tags(bogus) != nil")
	}
}

func TestRequestStatus_Open(t *testing.T) {
	tests := map[RequestStatus]bool{
		RequestPending:    true,
		RequestInProgress: true,
		RequestCompleted:  false,
		RequestCancelled:  false,
	}
	for s, want := range tests {
		if got := s.Open(); got != want {
			t.Errorf("%q.Open() = %v, want %v", s, got, want)
		}
	}
}

func TestStockLevel_StockPercent(t *testing.T) {
	tests := []struct {
		level StockLevel
		want  float64
	}{
		{StockLevel{Gas: GasCO2, Full: 45, Empty: 15}, 75},
		{StockLevel{Gas: GasArgon, Full: 0, Empty: 10}, 0},
		{StockLevel{Gas: GasOxygen}, 0},
		{StockLevel{Gas: GasOxygen, Full: 72, Empty: 18}, 80},
	}
	for _, tt := range tests {
		if got := tt.level.StockPercent(); got != tt.want {
			t.Errorf("%+v StockPercent() = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestStockLevel_LowStock(t *testing.T) {
	l := StockLevel{Gas: GasCO2, Full: 5, Empty: 45}
	if !l.LowStock(25) {
		t.Error("LowStock(25) = false at 10%")
	}
	if l.LowStock(10) {
		t.Error("LowStock(10) = true at exactly 10%")
	}
}
