package message

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vectorfy/migratemail/internal/testutil"
)

func TestComputeDeterministic(t *testing.T) {
	raw := testutil.SimpleEML("a@x.com", "b@y.com", "hi", "<id@x.com>", "body text")

	fp1 := Compute(raw, 4096)
	fp2 := Compute(raw, 4096)

	if fp1.Digest == "" {
		t.Fatal("empty digest")
	}
	if fp1.Digest != fp2.Digest {
		t.Errorf("digests differ for identical bytes: %s vs %s", fp1.Digest, fp2.Digest)
	}
	if fp1.MessageIDNorm != "<id@x.com>" {
		t.Errorf("MessageIDNorm = %q", fp1.MessageIDNorm)
	}
}

func TestComputeBodyChangesDigest(t *testing.T) {
	a := Compute(testutil.SimpleEML("a@x.com", "b@y.com", "hi", "", "body one"), 4096)
	b := Compute(testutil.SimpleEML("a@x.com", "b@y.com", "hi", "", "body two"), 4096)
	if a.Digest == b.Digest {
		t.Error("different bodies produced the same digest")
	}
}

func TestComputeSubjectChangesDigest(t *testing.T) {
	a := Compute(testutil.SimpleEML("a@x.com", "b@y.com", "subject A", "", "body"), 4096)
	b := Compute(testutil.SimpleEML("a@x.com", "b@y.com", "subject B", "", "body"), 4096)
	if a.Digest == b.Digest {
		t.Error("different subjects produced the same digest")
	}
}

func TestComputeBeyondPrefixIgnored(t *testing.T) {
	// Bodies share the first 8 bytes but diverge after; raw lengths are
	// equal so the digest should match with a small prefix budget.
	a := Compute(testutil.SimpleEML("a@x.com", "b@y.com", "hi", "", "prefix..AAAA"), 8)
	b := Compute(testutil.SimpleEML("a@x.com", "b@y.com", "hi", "", "prefix..BBBB"), 8)
	if a.Digest != b.Digest {
		t.Error("divergence beyond the body prefix changed the digest")
	}
}

func TestComputeLengthChangesDigest(t *testing.T) {
	// Same prefix, different total length: the length field must differ.
	a := Compute(testutil.SimpleEML("a@x.com", "b@y.com", "hi", "", "prefix.."), 8)
	b := Compute(testutil.SimpleEML("a@x.com", "b@y.com", "hi", "", "prefix..longer"), 8)
	if a.Digest == b.Digest {
		t.Error("different lengths produced the same digest")
	}
}

func TestComputeUnparseableDate(t *testing.T) {
	raw := testutil.EML([]string{
		"Date: not a date at all",
		"From: a@x.com",
		"To: b@y.com",
		"Subject: s",
	}, "body")

	fp := Compute(raw, 64)
	if fp.Digest == "" {
		t.Fatal("empty digest for unparseable date")
	}
	if fp.Headers.DateISO != "" {
		t.Errorf("DateISO = %q, want empty", fp.Headers.DateISO)
	}
	if fp.Headers.DateRaw != "not a date at all" {
		t.Errorf("DateRaw = %q", fp.Headers.DateRaw)
	}
}

func TestSHA256HexAndFile(t *testing.T) {
	data := []byte("hello")
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got := SHA256Hex(data); got != want {
		t.Errorf("SHA256Hex = %s, want %s", got, want)
	}

	path := filepath.Join(t.TempDir(), "f")
	testutil.MustNoErr(t, os.WriteFile(path, data, 0644), "write file")
	got, err := SHA256File(path)
	testutil.MustNoErr(t, err, "hash file")
	if got != want {
		t.Errorf("SHA256File = %s, want %s", got, want)
	}
}
