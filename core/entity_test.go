package core

import (
	"strings"
	"testing"
)

func TestValidateDocumentID(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{"simple", "doc-1", true},
		{"ulid", "01HQZ8D3K6Y2V6Q9Y4W1T9N5XR", true},
		{"unicode", "документ", true},
		{"empty", "", false},
		{"dot", ".", false},
		{"dotdot", "..", false},
		{"slash", "a/b", false},
		{"backslash", `a\b`, false},
		{"newline", "doc\n1", false},
		{"nul", "doc\x001", false},
		{"max length", strings.Repeat("x", MaxDocumentIDLength), true},
		{"too long", strings.Repeat("x", MaxDocumentIDLength+1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocumentID(tt.id)
			if tt.valid && err != nil {
				t.Errorf("ValidateDocumentID(%q) = %v, want nil", tt.id, err)
			}
			if !tt.valid && err != ErrInvalidDocumentID {
				t.Errorf("ValidateDocumentID(%q) = %v, want ErrInvalidDocumentID", tt.id, err)
			}
		})
	}
}

func TestContentJSON(t *testing.T) {
	if got := string(ContentJSON(nil)); got != `""` {
		t.Errorf("ContentJSON(nil) = %s, want \"\"", got)
	}
	if got := string(ContentJSON([]byte(`{"ops":[]}`))); got != `{"ops":[]}` {
		t.Errorf("ContentJSON() = %s", got)
	}
}

func TestCloneBytes(t *testing.T) {
	if CloneBytes(nil) != nil {
		t.Error("CloneBytes(nil) should stay nil")
	}

	src := []byte("hello")
	dst := CloneBytes(src)
	src[0] = 'j'
	if string(dst) != "hello" {
		t.Errorf("CloneBytes shares memory with its input: got %q", dst)
	}
}

func TestDialectOutboundEvent(t *testing.T) {
	tests := []struct {
		dialect Dialect
		event   string
		want    string
	}{
		{DialectCurrent, EventDocumentSnapshot, EventDocumentSnapshot},
		{DialectCurrent, EventEditOperation, EventEditOperation},
		{DialectLegacy, EventDocumentSnapshot, LegacyEventLoadDocument},
		{DialectLegacy, EventEditOperation, LegacyEventReceiveChanges},
		{DialectLegacy, EventError, EventError},
	}

	for _, tt := range tests {
		if got := tt.dialect.OutboundEvent(tt.event); got != tt.want {
			t.Errorf("Dialect(%d).OutboundEvent(%q) = %q, want %q", tt.dialect, tt.event, got, tt.want)
		}
	}
}
