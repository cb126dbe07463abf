package model

import "testing"

func TestTagList_Add(t *testing.T) {
	var tags TagList
	if !tags.Add("  RF123 ") {
		t.Fatal("Add(RF123) = false, want true")
	}
	if len(tags) != 1 || tags[0] != "RF123" {
		t.Errorf("tags = %v, want [RF123]", tags)
	}
}

func TestTagList_Add_blankIgnored(t *testing.T) {
	var tags TagList
	for _, in := range []string{"", "   ", "\t\n"} {
		if tags.Add(in) {
			t.Errorf("Add(%q) = true, want false", in)
		}
	}
	if tags.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tags.Len())
	}
}

func TestTagList_Add_duplicatesAllowed(t *testing.T) {
	var tags TagList
	tags.Add("RF1")
	tags.Add("RF1")
	if tags.Len() != 2 {
		t.Errorf("Len() = %d, want 2", tags.Len())
	}
}

func TestTagList_AddThenRemove(t *testing.T) {
	var tags TagList
	tags.Add("RF123")
	if !tags.Remove(0) {
		t.Fatal("Remove(0) = false, want true")
	}
	if tags.Len() != 0 {
		t.Errorf("tags = %v, want empty", tags)
	}
}

func TestTagList_Remove_preservesOrder(t *testing.T) {
	tags := TagList{"A", "B", "C"}
	tags.Remove(1)
	if len(tags) != 2 || tags[0] != "A" || tags[1] != "C" {
		t.Errorf("tags = %v, want [A C]", tags)
	}
}

func TestTagList_Remove_outOfRange(t *testing.T) {
	tags := TagList{"A"}
	for _, idx := range []int{-1, 1, 5} {
		if tags.Remove(idx) {
			t.Errorf("Remove(%d) = true, want false", idx)
		}
	}
	if tags.Len() != 1 {
		t.Errorf("Len() = %d, want 1", tags.Len())
	}
}

func TestTagList_Clone(t *testing.T) {
	var empty TagList
	if c := empty.Clone(); c == nil {
		t.Error("Clone() of nil list returned nil")
	}

	orig := TagList{"A"}
	c := orig.Clone()
	c[0] = "B"
	if orig[0] != "A" {
		t.Error("Clone shares backing array with original")
	}
}
