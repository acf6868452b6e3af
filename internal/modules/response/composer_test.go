package response

import (
	"errors"
	"testing"

	"trail/internal/apperr"
	"trail/internal/types"
)

var (
	pngHeader  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	jpegHeader = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00")
)

func image(header []byte, size int) []byte {
	b := make([]byte, size)
	copy(b, header)
	return b
}

func testComposer() *Composer {
	return NewComposer("task-1", Config{MaxFileBytes: 1024, AllowedTypes: DefaultConfig().AllowedTypes})
}

func TestIsSubmittable(t *testing.T) {
	acc := 5.0
	cases := []struct {
		name  string
		apply func(*Composer)
		want  bool
	}{
		{"empty", func(*Composer) {}, false},
		{"whitespace text", func(c *Composer) { c.SetText("   ") }, false},
		{"coordinate only", func(c *Composer) {
			_ = c.SetDeviceCoordinate(&types.Point{Lat: 1, Lng: 2, Accuracy: &acc})
		}, false},
		{"text", func(c *Composer) { c.SetText("visited!") }, true},
		{"location", func(c *Composer) { c.SelectLocation("loc-1") }, true},
		{"file", func(c *Composer) { _, _ = c.AddFile("a.png", image(pngHeader, 64)) }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := testComposer()
			tc.apply(c)
			if got := c.IsSubmittable(); got != tc.want {
				t.Fatalf("IsSubmittable = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAddFile_ScenarioD(t *testing.T) {
	c := testComposer()
	valid, err := c.AddFile("ok.jpg", image(jpegHeader, 512))
	if err != nil {
		t.Fatalf("AddFile valid: %v", err)
	}
	if valid.ContentType != "image/jpeg" || valid.Size != 512 {
		t.Errorf("unexpected file %+v", valid)
	}

	_, err = c.AddFile("huge.png", image(pngHeader, 2048))
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("kind = %v", apperr.KindOf(err))
	}
	if _, ok := apperr.FieldsOf(err)["file:huge.png"]; !ok {
		t.Errorf("rejection must name the file, fields=%v", apperr.FieldsOf(err))
	}

	d := c.Snapshot()
	if len(d.Files) != 1 || d.Files[0].ID != valid.ID {
		t.Fatalf("valid attachment lost: %+v", d.Files)
	}
}

func TestAddFile_RejectsTypes(t *testing.T) {
	c := testComposer()
	if _, err := c.AddFile("notes.txt", []byte("just some text")); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
	if _, err := c.AddFile("empty.png", nil); !errors.Is(err, ErrEmptyFile) {
		t.Errorf("expected ErrEmptyFile, got %v", err)
	}
	if c.IsSubmittable() {
		t.Error("rejected files must not be attached")
	}
}

func TestRemoveFile(t *testing.T) {
	c := testComposer()
	a, _ := c.AddFile("a.png", image(pngHeader, 32))
	b, _ := c.AddFile("b.png", image(pngHeader, 32))

	if err := c.RemoveFile(a.ID); err != nil {
		t.Fatal(err)
	}
	d := c.Snapshot()
	if len(d.Files) != 1 || d.Files[0].ID != b.ID {
		t.Fatalf("files = %+v", d.Files)
	}
	if err := c.RemoveFile(a.ID); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("expected ErrFileNotFound, got %v", err)
	}
}

func TestSetDeviceCoordinate_Validates(t *testing.T) {
	c := testComposer()
	err := c.SetDeviceCoordinate(&types.Point{Lat: 0, Lng: 200})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if c.Snapshot().Coordinate != nil {
		t.Error("invalid coordinate must not be stored")
	}
	if err := c.SetDeviceCoordinate(&types.Point{Lat: 59.4, Lng: 24.7}); err != nil {
		t.Fatal(err)
	}
	if err := c.SetDeviceCoordinate(nil); err != nil || c.Snapshot().Coordinate != nil {
		t.Errorf("nil should clear the coordinate: %v", err)
	}
}

func TestReset_ClearsEverything(t *testing.T) {
	c := testComposer()
	c.SetText("hello")
	c.SelectLocation("loc-1")
	_ = c.SetDeviceCoordinate(&types.Point{Lat: 1, Lng: 1})
	_, _ = c.AddFile("a.png", image(pngHeader, 32))

	c.Reset()
	d := c.Snapshot()
	if !d.IsEmpty() || len(d.Files) != 0 {
		t.Fatalf("draft not cleared: %+v", d)
	}
	if d.TaskID != "task-1" {
		t.Errorf("task id lost on reset")
	}
}

func TestSnapshot_IsIndependent(t *testing.T) {
	c := testComposer()
	c.SetText("first")
	_ = c.SetDeviceCoordinate(&types.Point{Lat: 1, Lng: 1})
	_, _ = c.AddFile("a.png", image(pngHeader, 32))

	snap := c.Snapshot()
	c.SetText("second")
	c.Reset()

	if snap.Text != "first" || len(snap.Files) != 1 || snap.Coordinate == nil {
		t.Fatalf("snapshot changed: %+v", snap)
	}
}

func TestSubscribe(t *testing.T) {
	c := testComposer()
	var got []Draft
	unsub := c.Subscribe(func(d Draft) { got = append(got, d) })
	c.SetText("a")
	unsub()
	c.SetText("b")
	if len(got) != 1 || got[0].Text != "a" {
		t.Fatalf("published = %+v", got)
	}
}
