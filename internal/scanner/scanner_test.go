package scanner

import (
	"reflect"
	"testing"

	"mediaref/internal/database"
)

func TestScanText(t *testing.T) {
	t.Parallel()

	s := New(Config{BaseURLs: []string{"https://cdn.example.com/site"}})

	tests := []struct {
		name      string
		text      string
		wantPaths []string
	}{
		{
			name:      "root relative",
			text:      `<img src="/uploads/2024/05/photo.jpg" alt="x">`,
			wantPaths: []string{"2024/05/photo.jpg"},
		},
		{
			name:      "absolute and protocol relative",
			text:      `a https://example.com/uploads/a.png b //example.com/uploads/b.gif`,
			wantPaths: []string{"a.png", "b.gif"},
		},
		{
			name:      "configured base url",
			text:      `url(https://cdn.example.com/site/uploads/hero.webp)`,
			wantPaths: []string{"hero.webp"},
		},
		{
			name:      "query string and fragment are not part of the path",
			text:      `/uploads/a.jpg?ver=2 /uploads/b.jpg#top`,
			wantPaths: []string{"a.jpg", "b.jpg"},
		},
		{
			name:      "appended alternate format is one reference",
			text:      `/uploads/photo.jpg.webp`,
			wantPaths: []string{"photo.jpg.webp"},
		},
		{
			name:      "srcset",
			text:      `srcset="/uploads/p-300x200.jpg 300w, /uploads/p-600x400.jpg 600w"`,
			wantPaths: []string{"p-300x200.jpg", "p-600x400.jpg"},
		},
		{
			name:      "url encoded",
			text:      `/uploads/my%20photo.jpg`,
			wantPaths: []string{"my photo.jpg"},
		},
		{
			name:      "unknown extension ignored",
			text:      `/uploads/report.pdf /uploads/photo.jpgx`,
			wantPaths: nil,
		},
		{
			name:      "outside storage prefix ignored",
			text:      `/static/logo.png`,
			wantPaths: nil,
		},
		{
			name:      "uppercase extension",
			text:      `/uploads/IMG_0001.JPG`,
			wantPaths: []string{"IMG_0001.JPG"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var got []string
			for _, m := range s.ScanText(tt.text) {
				got = append(got, m.Path)
				if tt.text[m.Start:m.End] != m.Raw {
					t.Errorf("offsets %d:%d do not cover raw %q", m.Start, m.End, m.Raw)
				}
			}
			if !reflect.DeepEqual(got, tt.wantPaths) {
				t.Errorf("ScanText() paths = %q, want %q", got, tt.wantPaths)
			}
		})
	}
}

func TestMatchVariant(t *testing.T) {
	t.Parallel()

	s := New(Config{})
	matches := s.ScanText("/uploads/2024/photo-300x200.jpg")
	if len(matches) != 1 {
		t.Fatalf("got %d matches", len(matches))
	}
	m := matches[0]
	if m.Variant != "-300x200" {
		t.Errorf("Variant = %q", m.Variant)
	}
	if m.AssetPath() != "2024/photo.jpg" {
		t.Errorf("AssetPath() = %q", m.AssetPath())
	}
	if !m.Resolves("2024/photo.jpg") || !m.Resolves("2024/photo-300x200.jpg") {
		t.Error("variant reference should resolve to both the original and the literal path")
	}
	if m.Resolves("2024/photo-copy.jpg") {
		t.Error("unexpected resolution")
	}
}

func TestScanRecordNestedJSON(t *testing.T) {
	t.Parallel()

	s := New(Config{})
	r := &database.Record{
		ID:          7,
		ContextType: database.ContextStructuredMeta,
		FieldKey:    "meta",
		Encoding:    database.EncodingJSON,
		Value: `{"title":"Trip","gallery":[{"src":"/uploads/a.jpg"},{"src":"/uploads/b.jpg","thumbs":{"small":"/uploads\/b-150x150.jpg"}},{"n":12.50}],
			"layout":{"blocks":[[["deep /uploads/c.png text"]]]}}`,
	}

	refs := s.ScanRecord(r)

	type got struct{ key, path string }
	var have []got
	for _, ref := range refs {
		if ref.ContextType != database.ContextStructuredMeta || ref.LocationID != 7 {
			t.Errorf("reference carries wrong location: %+v", ref)
		}
		have = append(have, got{ref.FieldKey, ref.Match.Path})
	}
	want := []got{
		{"meta.gallery.0.src", "a.jpg"},
		{"meta.gallery.1.src", "b.jpg"},
		{"meta.gallery.1.thumbs.small", "b-150x150.jpg"},
		{"meta.layout.blocks.0.0.0", "c.png"},
	}
	if !reflect.DeepEqual(have, want) {
		t.Errorf("ScanRecord() = %+v, want %+v", have, want)
	}
}

func TestScanRecordMalformedJSONFallsBackToText(t *testing.T) {
	t.Parallel()

	s := New(Config{})
	r := &database.Record{
		ContextType: database.ContextStructuredMeta,
		FieldKey:    "meta",
		Encoding:    database.EncodingJSON,
		Value:       `{"src":"/uploads/a.jpg", broken`,
	}

	refs := s.ScanRecord(r)
	if len(refs) != 1 || refs[0].Match.Path != "a.jpg" || refs[0].FieldKey != "meta" {
		t.Errorf("ScanRecord() = %+v", refs)
	}
}

func TestReferencedPaths(t *testing.T) {
	t.Parallel()

	s := New(Config{})
	r := &database.Record{
		ContextType: database.ContextContent,
		FieldKey:    "body",
		Value:       `/uploads/a.jpg /uploads/a-300x300.jpg /uploads/a.jpg`,
	}

	got := s.ReferencedPaths(r)
	want := []string{"a.jpg", "a-300x300.jpg"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ReferencedPaths() = %q, want %q", got, want)
	}
}

func TestDecodePreservesNumbersAndOrder(t *testing.T) {
	t.Parallel()

	in := `{"z":1.50,"a":[1e3,true,null,"x"],"m":{}}`
	v, err := Decode([]byte(in))
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if v.Kind != KindMap || v.Members[0].Key != "z" {
		t.Fatalf("member order lost: %+v", v)
	}
	out, err := v.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != in {
		t.Errorf("MarshalJSON() = %s, want %s", out, in)
	}

	if _, err := Decode([]byte(`{"a":1} {"b":2}`)); err == nil {
		t.Error("Decode() should reject trailing values")
	}
}
