// Package deps downloads and unpacks the external tools listed in DEPS.yml (i.e. the
// CoffeeScript compiler).
package deps

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"gopkg.in/yaml.v3"

	"github.com/ngld/coffeetask/pkg"
)

// Spec describes a single dependency
type Spec struct {
	Condition  string `yaml:"if,omitempty"`
	Rejections string `yaml:"ifNot,omitempty"`
	URL        string
	Dest       string
	Sha256     string
	Strip      int
	MarkExec   []string `yaml:"markExec,omitempty"`
}

// Config is the content of DEPS.yml
type Config struct {
	Vars map[string]string
	Deps map[string]Spec
}

// LoadConfig parses the given DEPS.yml file
func LoadConfig(cfgPath string) (*Config, error) {
	cfgData, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, eris.Wrapf(err, "Could not open file %s.", cfgPath)
	}

	var cfg Config
	err = yaml.Unmarshal(cfgData, &cfg)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to parse %s.", cfgPath)
	}

	if cfg.Vars == nil {
		cfg.Vars = map[string]string{}
	}

	return &cfg, nil
}

// LoadStamps reads the stamps file which records which version of each dependency is installed.
// A missing file results in an empty map.
func LoadStamps(stampPath string) (map[string]string, error) {
	stamps := map[string]string{}
	stampData, err := os.ReadFile(stampPath)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return stamps, nil
		}
		return nil, eris.Wrapf(err, "Failed to read stamps file %s.", stampPath)
	}

	err = json.Unmarshal(stampData, &stamps)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to parse JSON file %s.", stampPath)
	}

	return stamps, nil
}

// SaveStamps writes the stamps file
func SaveStamps(stampPath string, stamps map[string]string) error {
	stampData, err := json.Marshal(stamps)
	if err != nil {
		return eris.Wrap(err, "Failed to encode stamps")
	}

	err = os.MkdirAll(filepath.Dir(stampPath), 0770)
	if err != nil {
		return eris.Wrapf(err, "Failed to create directory for %s", stampPath)
	}

	return os.WriteFile(stampPath, stampData, 0660)
}

var varMatcher = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// Resolve substitutes the {VAR} placeholders in the URL and evaluates the if / ifNot conditions.
// The second return value is false if the dependency doesn't apply.
func (s Spec) Resolve(vars map[string]string) (Spec, bool) {
	s.URL = varMatcher.ReplaceAllStringFunc(s.URL, func(varName string) string {
		return vars[varName[1:len(varName)-1]]
	})

	for _, condition := range strings.Split(s.Condition, ",") {
		condition = strings.TrimSpace(condition)
		if condition == "" {
			continue
		}

		if vars[condition] == "" {
			return s, false
		}
	}

	for _, condition := range strings.Split(s.Rejections, ",") {
		condition = strings.TrimSpace(condition)
		if condition == "" {
			continue
		}

		if vars[condition] != "" {
			return s, false
		}
	}
	return s, true
}

// DefaultVars returns the variables every condition can check
func DefaultVars(vars map[string]string) map[string]string {
	result := make(map[string]string, len(vars)+3)
	for k, v := range vars {
		result[k] = v
	}

	result[runtime.GOARCH] = "true"
	result[runtime.GOOS] = "true"
	if os.Getenv("CI") == "true" {
		result["ci"] = "true"
	}

	return result
}

// Fetcher downloads dependencies into Root
type Fetcher struct {
	Client *http.Client
	Root   string
	Stamps map[string]string
	// Update accepts mismatching checksums and records them in Checksums instead of failing.
	Update    bool
	Checksums map[string]string
	Quiet     bool
}

// NewFetcher returns a fetcher with the default HTTP client
func NewFetcher(root string, stamps map[string]string) *Fetcher {
	return &Fetcher{
		Client: &http.Client{
			Timeout: time.Minute * 30,
		},
		Root:      root,
		Stamps:    stamps,
		Checksums: map[string]string{},
	}
}

func (f *Fetcher) progressBar(length int64, desc string) *progressbar.ProgressBar {
	if f.Quiet || os.Getenv("CI") == "true" {
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.DefaultBytes(length, desc)
}

// FetchAll processes all dependencies in cfg in alphabetical order
func (f *Fetcher) FetchAll(ctx context.Context, cfg *Config) error {
	vars := DefaultVars(cfg.Vars)

	names := make([]string, 0, len(cfg.Deps))
	for name := range cfg.Deps {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		meta, ok := cfg.Deps[name].Resolve(vars)
		if !ok {
			continue
		}

		err := f.Fetch(ctx, name, meta)
		if err != nil {
			return err
		}
	}

	return nil
}

// Fetch downloads, verifies and extracts a single dependency unless the stamps show that it's
// already installed.
func (f *Fetcher) Fetch(ctx context.Context, name string, meta Spec) error {
	destPath := filepath.Join(f.Root, meta.Dest)
	destInfo, err := os.Stat(destPath)
	destExists := err == nil

	stampToken := meta.URL + "#" + meta.Sha256
	if stamp, ok := f.Stamps[name]; ok && stampToken == stamp && destExists {
		return nil
	}

	if !f.Quiet {
		pkg.PrintSubtask(name + ":  " + meta.URL)
	}
	if meta.Sha256 == "" && !f.Quiet {
		pkg.PrintError(fmt.Sprintf("%s isn't pinned to a checksum, add the one printed below to DEPS.yml", name))
	}

	extractor, err := getExtractor(meta.URL)
	if err != nil {
		return err
	}

	arHandle, err := os.CreateTemp("", "deps_dl-*.tmp")
	if err != nil {
		return eris.Wrap(err, "Failed to create temporary download file")
	}
	defer func() {
		arHandle.Close()
		os.Remove(arHandle.Name())
	}()

	digest, size, err := f.download(ctx, meta.URL, arHandle)
	if err != nil {
		return err
	}

	if digest != meta.Sha256 {
		// unpinned dependencies are accepted once, their checksum is reported like in update mode
		if meta.Sha256 != "" && !f.Update {
			return eris.Errorf("Checksum check failed for %s: expected %s but got %s", name, meta.Sha256, digest)
		}
		f.Checksums[name] = digest
	}

	if destExists {
		if !f.Quiet {
			pkg.PrintSubtask("Remove " + destPath)
		}
		if destInfo.IsDir() {
			err = os.RemoveAll(destPath)
		} else {
			err = os.Remove(destPath)
		}
		if err != nil {
			return eris.Wrapf(err, "Failed to remove %s", destPath)
		}
	}

	_, err = arHandle.Seek(0, io.SeekStart)
	if err != nil {
		return eris.Wrap(err, "Failed to rewind download")
	}

	bar := f.progressBar(size, "      extract")
	err = extractor(arHandle, bar, destPath, meta)
	if err != nil {
		return eris.Wrapf(err, "Failed to extract %s", name)
	}
	bar.Finish()

	if runtime.GOOS != "windows" {
		// .zip files don't carry permissions which means we have to manually fix permissions for binaries in .zip files
		for _, binPath := range meta.MarkExec {
			binPath = filepath.Join(destPath, binPath)
			fi, err := os.Stat(binPath)
			if err != nil {
				return eris.Wrapf(err, "Failed to read permissions for %s", binPath)
			}

			err = os.Chmod(binPath, fi.Mode()|0700)
			if err != nil {
				return eris.Wrapf(err, "Failed to mark %s as executable", binPath)
			}
		}
	}

	f.Stamps[name] = stampToken
	return nil
}

func (f *Fetcher) download(ctx context.Context, url string, out io.Writer) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, eris.Wrapf(err, "Invalid URL %s", url)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", 0, eris.Wrapf(err, "Failed to start download for %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, eris.Errorf("Download of %s failed with status %s", url, resp.Status)
	}

	hash := sha256.New()
	bar := f.progressBar(resp.ContentLength, "     download")
	size, err := io.Copy(io.MultiWriter(out, hash, bar), resp.Body)
	if err != nil {
		return "", 0, eris.Wrapf(err, "Failed during download of %s", url)
	}
	bar.Finish()

	return hex.EncodeToString(hash.Sum(nil)), size, nil
}
