package offlinecache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/offline-cache/offline-cache/pkg/strategy"
)

func TestReadFileConfig(t *testing.T) {
	contents := `
origin: http://localhost:8000
host: app.example.com
version: 3
apiPrefix: /v1/
precache:
  - /
  - /offline.html
shell: /offline.html
maxEntries: 500
rules:
  - prefix: /live/
    strategy: network-only
  - path: /archive
    destination: document
    strategy: cache-only
`
	filename := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(filename, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}

	config, err := ReadFileConfig(filename)
	if err != nil {
		t.Fatal(err)
	}
	if config.Origin != "http://localhost:8000" {
		t.Fatalf("Origin is %s", config.Origin)
	}
	if config.Host != "app.example.com" {
		t.Fatalf("Host is %s", config.Host)
	}
	if config.Version != 3 {
		t.Fatalf("Version is %d", config.Version)
	}
	if config.APIPrefix != "/v1/" {
		t.Fatalf("APIPrefix is %s", config.APIPrefix)
	}
	if len(config.Precache) != 2 || config.Precache[1] != "/offline.html" {
		t.Fatalf("Precache is %v", config.Precache)
	}
	if config.Shell != "/offline.html" {
		t.Fatalf("Shell is %s", config.Shell)
	}
	if config.MaxEntries != 500 {
		t.Fatalf("MaxEntries is %d", config.MaxEntries)
	}
	if len(config.Rules) != 2 {
		t.Fatalf("Rules are %v", config.Rules)
	}
	if config.Rules[0].Prefix != "/live/" || config.Rules[0].Strategy != strategy.NetworkOnly {
		t.Fatalf("Rule is %+v", config.Rules[0])
	}
	if config.Rules[1].Destination != "document" || config.Rules[1].Strategy != strategy.CacheOnly {
		t.Fatalf("Rule is %+v", config.Rules[1])
	}
}

func TestReadFileConfigMissingFile(t *testing.T) {
	if _, err := ReadFileConfig("/does/not/exist.yml"); err == nil {
		t.Fatal("Expected an error for a missing file")
	}
}
