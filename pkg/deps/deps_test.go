package deps

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	vars := map[string]string{"VERSION": "2.7.0", "linux": "true"}
	spec := Spec{URL: "https://example.com/coffeescript-{VERSION}.tgz", Condition: "linux"}

	resolved, ok := spec.Resolve(vars)
	require.True(t, ok)
	require.Equal(t, "https://example.com/coffeescript-2.7.0.tgz", resolved.URL)

	_, ok = Spec{Condition: "linux, windows"}.Resolve(vars)
	require.False(t, ok)

	_, ok = Spec{Rejections: "linux"}.Resolve(vars)
	require.False(t, ok)

	_, ok = Spec{Rejections: "darwin"}.Resolve(vars)
	require.True(t, ok)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "DEPS.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
vars:
  COFFEE_VERSION: 2.7.0
deps:
  coffeescript:
    url: https://registry.npmjs.org/coffeescript/-/coffeescript-{COFFEE_VERSION}.tgz
    dest: .tools/coffeescript
    sha256: abc
    strip: 1
    markExec:
      - bin/coffee
`), 0660))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "2.7.0", cfg.Vars["COFFEE_VERSION"])

	dep := cfg.Deps["coffeescript"]
	require.Equal(t, ".tools/coffeescript", dep.Dest)
	require.Equal(t, 1, dep.Strip)
	require.Equal(t, []string{"bin/coffee"}, dep.MarkExec)
}

func TestStamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".tools", "DEPS.stamps")

	stamps, err := LoadStamps(path)
	require.NoError(t, err)
	require.Empty(t, stamps)

	require.NoError(t, SaveStamps(path, map[string]string{"coffeescript": "url#sum"}))

	stamps, err = LoadStamps(path)
	require.NoError(t, err)
	require.Equal(t, "url#sum", stamps["coffeescript"])
}

func makeTgz(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	return buf.Bytes()
}

func TestFetch(t *testing.T) {
	archive := makeTgz(t, map[string]string{
		"package/bin/coffee":          "#!/usr/bin/env node\n",
		"package/lib/coffeescript.js": "// compiler",
		"../../../escape.txt":         "nope",
	})
	sum := sha256.Sum256(archive)
	digest := hex.EncodeToString(sum[:])

	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		requests++
		rw.Write(archive)
	}))
	defer server.Close()

	root := t.TempDir()
	fetcher := NewFetcher(root, map[string]string{})
	fetcher.Quiet = true

	spec := Spec{
		URL:      server.URL + "/coffeescript.tgz",
		Dest:     ".tools/coffeescript",
		Sha256:   digest,
		Strip:    1,
		MarkExec: []string{"bin/coffee"},
	}

	// the archive contains an entry that points outside of the destination
	err := fetcher.Fetch(context.Background(), "coffeescript", spec)
	require.Error(t, err)
	require.NoFileExists(t, filepath.Join(root, "escape.txt"))

	archive = makeTgz(t, map[string]string{
		"package/bin/coffee":          "#!/usr/bin/env node\n",
		"package/lib/coffeescript.js": "// compiler",
	})
	sum = sha256.Sum256(archive)
	spec.Sha256 = hex.EncodeToString(sum[:])

	err = fetcher.Fetch(context.Background(), "coffeescript", spec)
	require.NoError(t, err)

	dest := filepath.Join(root, ".tools", "coffeescript")
	require.FileExists(t, filepath.Join(dest, "bin", "coffee"))
	data, err := os.ReadFile(filepath.Join(dest, "lib", "coffeescript.js"))
	require.NoError(t, err)
	require.Equal(t, "// compiler", string(data))
	require.Equal(t, spec.URL+"#"+spec.Sha256, fetcher.Stamps["coffeescript"])

	// already installed, no new download
	before := requests
	require.NoError(t, fetcher.Fetch(context.Background(), "coffeescript", spec))
	require.Equal(t, before, requests)
}

func TestFetchChecksumMismatch(t *testing.T) {
	archive := makeTgz(t, map[string]string{"package/index.js": ""})
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Write(archive)
	}))
	defer server.Close()

	root := t.TempDir()
	fetcher := NewFetcher(root, map[string]string{})
	fetcher.Quiet = true

	spec := Spec{URL: server.URL + "/dep.tar.gz", Dest: "dep", Sha256: "0000"}
	err := fetcher.Fetch(context.Background(), "dep", spec)
	require.Error(t, err)
	require.NoDirExists(t, filepath.Join(root, "dep"))

	fetcher.Update = true
	require.NoError(t, fetcher.Fetch(context.Background(), "dep", spec))

	sum := sha256.Sum256(archive)
	require.Equal(t, hex.EncodeToString(sum[:]), fetcher.Checksums["dep"])
	require.FileExists(t, filepath.Join(root, "dep", "package", "index.js"))
}

func TestFetchWithoutChecksum(t *testing.T) {
	archive := makeTgz(t, map[string]string{"package/bin/coffee": "#!/usr/bin/env node\n"})
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		requests++
		rw.Write(archive)
	}))
	defer server.Close()

	root := t.TempDir()
	fetcher := NewFetcher(root, map[string]string{})
	fetcher.Quiet = true

	spec := Spec{URL: server.URL + "/coffeescript.tgz", Dest: ".tools/coffeescript", Strip: 1}
	require.NoError(t, fetcher.Fetch(context.Background(), "coffeescript", spec))
	require.FileExists(t, filepath.Join(root, ".tools", "coffeescript", "bin", "coffee"))

	sum := sha256.Sum256(archive)
	require.Equal(t, hex.EncodeToString(sum[:]), fetcher.Checksums["coffeescript"])

	require.NoError(t, fetcher.Fetch(context.Background(), "coffeescript", spec))
	require.Equal(t, 1, requests)
}

func TestUnsupportedArchive(t *testing.T) {
	_, err := getExtractor("https://example.com/file.rar")
	require.Error(t, err)
}
