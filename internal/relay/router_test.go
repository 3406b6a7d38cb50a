package relay

import (
	"strings"
	"testing"
)

func TestActivateSheetTab(t *testing.T) {
	html := "<html><body><div>sheet</div></body></html>"
	out := activateSheetTab(html, "2")
	if !strings.Contains(out, "tabs[2]") {
		t.Error("expected tab activation script for index 2")
	}
	if !strings.HasSuffix(out, "</body></html>") {
		t.Error("script should be injected before </body>")
	}
}

func TestActivateSheetTabBadIndex(t *testing.T) {
	html := "<html><body></body></html>"
	if out := activateSheetTab(html, "potato"); out != html {
		t.Error("unparseable tab index should leave html unchanged")
	}
	if out := activateSheetTab(html, "-1"); out != html {
		t.Error("negative tab index should leave html unchanged")
	}
}

func TestActivateSheetTabNoBody(t *testing.T) {
	out := activateSheetTab("<div>fragment</div>", "0")
	if !strings.Contains(out, "tabs[0]") {
		t.Error("script should be appended when no </body> exists")
	}
}

func TestDecodeDataURL(t *testing.T) {
	mime, data, err := decodeDataURL("data:image/png;base64,aGVsbG8=")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if mime != "image/png" {
		t.Errorf("mime = %q, want image/png", mime)
	}
	if string(data) != "hello" {
		t.Errorf("data = %q, want hello", data)
	}
}

func TestDecodeDataURLErrors(t *testing.T) {
	cases := []string{
		"http://example.com/file.png",
		"data:image/png;base64",
		"data:image/png,plain",
		"data:image/png;base64,!!!",
	}
	for _, c := range cases {
		if _, _, err := decodeDataURL(c); err == nil {
			t.Errorf("expected error for %q", c)
		}
	}
}
