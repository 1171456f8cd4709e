package lang

import (
	"testing"
)

func TestForExtension(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ext  string
		want string
	}{
		{".java", "java"},
		{".class", ""},
		{".py", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			t.Parallel()
			var got string
			if l := ForExtension(tt.ext); l != nil {
				got = l.Name
			}
			if got != tt.want {
				t.Errorf("ForExtension(%q) = %q, want %q", tt.ext, got, tt.want)
			}
		})
	}
}

func TestLanguagesRegistered(t *testing.T) {
	t.Parallel()

	j, ok := Languages["java"]
	if !ok {
		t.Fatal("java language not registered")
	}
	if j.GetLanguage() == nil {
		t.Error("java language is nil")
	}
	if !j.IsTypeDeclaration("class_declaration") {
		t.Error("class_declaration should declare a unit")
	}
	if j.IsTypeDeclaration("method_declaration") {
		t.Error("method_declaration should not declare a unit")
	}
}

func TestNewParser(t *testing.T) {
	t.Parallel()

	p := Languages["java"].NewParser()
	if p == nil {
		t.Fatal("NewParser returned nil")
	}
}

func TestGetContextQuery(t *testing.T) {
	t.Parallel()

	q, err := Languages["java"].GetContextQuery()
	if err != nil {
		t.Fatalf("GetContextQuery: %v", err)
	}
	if q == nil {
		t.Fatal("query is nil")
	}
}

func TestCollapseWhitespace(t *testing.T) {
	t.Parallel()

	if got := CollapseWhitespace("  (int a,\n\t String b) "); got != "(int a, String b)" {
		t.Errorf("CollapseWhitespace = %q", got)
	}
}
