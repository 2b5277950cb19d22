package nodert

import "testing"

func testTranslator() *PathTranslator {
	return newPathTranslator(&Sandbox{
		Root:       "/srv/sandbox",
		WorkingDir: "/",
		Mounts: []Mount{
			{Virtual: "/data", Physical: "/mnt/storage"},
			{Virtual: "/data/tmp", Physical: "/mnt/scratch"},
		},
	})
}

func TestPathTranslator_RootMapping(t *testing.T) {
	tr := testTranslator()
	got, err := tr.Translate("/home/app/index.js")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "/srv/sandbox/home/app/index.js" {
		t.Errorf("Translate = %q, want /srv/sandbox/home/app/index.js", got)
	}
}

func TestPathTranslator_MountWins(t *testing.T) {
	tr := testTranslator()
	got, err := tr.Translate("/data/file.txt")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "/mnt/storage/file.txt" {
		t.Errorf("Translate = %q, want /mnt/storage/file.txt", got)
	}
}

func TestPathTranslator_LongestMountWins(t *testing.T) {
	tr := testTranslator()
	got, err := tr.Translate("/data/tmp/x")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "/mnt/scratch/x" {
		t.Errorf("Translate = %q, want /mnt/scratch/x", got)
	}
}

func TestPathTranslator_DotDotCannotEscapeRoot(t *testing.T) {
	tr := testTranslator()
	got, err := tr.Translate("/../../etc/passwd")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	// Leading .. segments collapse at the virtual root; the result stays
	// inside the sandbox.
	if got != "/srv/sandbox/etc/passwd" {
		t.Errorf("Translate = %q, want /srv/sandbox/etc/passwd", got)
	}
}

func TestPathTranslator_RoundTrip(t *testing.T) {
	tr := testTranslator()
	paths := []string{
		"/",
		"/home/app/index.js",
		"/data/file.txt",
		"/data/tmp/x",
		"/deeply/nested/dir/file",
	}
	for _, p := range paths {
		phys, err := tr.Translate(p)
		if err != nil {
			t.Fatalf("Translate(%q): %v", p, err)
		}
		back, err := tr.ReverseTranslate(phys)
		if err != nil {
			t.Fatalf("ReverseTranslate(%q): %v", phys, err)
		}
		if back != p {
			t.Errorf("round trip %q -> %q -> %q", p, phys, back)
		}
	}
}

func TestPathTranslator_ReverseOutsideSandbox(t *testing.T) {
	tr := testTranslator()
	if _, err := tr.ReverseTranslate("/etc/passwd"); err == nil {
		t.Error("ReverseTranslate should reject physical paths outside the sandbox")
	}
}

func TestPathTranslator_NoSandboxIsIdentity(t *testing.T) {
	tr := newPathTranslator(nil)
	for _, p := range []string{"/a/b", "rel/path", "/"} {
		got, err := tr.Translate(p)
		if err != nil || got != p {
			t.Errorf("Translate(%q) = %q, %v; want identity", p, got, err)
		}
		got, err = tr.ReverseTranslate(p)
		if err != nil || got != p {
			t.Errorf("ReverseTranslate(%q) = %q, %v; want identity", p, got, err)
		}
	}
}
