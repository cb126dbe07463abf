package model

import "strings"

// TagList is an ordered sequence of RFID tag identifiers. Duplicates are
// permitted; the same physical tag may be scanned twice.
type TagList []string

// Add appends tag after trimming surrounding whitespace. Blank tags are
// ignored. It reports whether the tag was appended.
func (l *TagList) Add(tag string) bool {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return false
	}
	*l = append(*l, tag)
	return true
}

// Remove deletes the tag at index. An out-of-range index is a no-op. It
// reports whether a tag was removed.
func (l *TagList) Remove(index int) bool {
	if index < 0 || index >= len(*l) {
		return false
	}
	*l = append((*l)[:index], (*l)[index+1:]...)
	return true
}

// Len returns the number of tags.
func (l TagList) Len() int { return len(l) }

// Clone returns an independent copy of the list. A nil list clones to an
// empty, non-nil list so it serialises as [].
func (l TagList) Clone() TagList {
	out := make(TagList, len(l))
	copy(out, l)
	return out
}
