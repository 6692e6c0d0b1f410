package main

import (
	"encoding/hex"
	"encoding/json"
	"os"

	"github.com/NebulousLabs/errors"

	"github.com/patchkit-go/patchkit/index/memindex"
)

// manifest is the on-disk description this demonstration harness reads to
// build a memindex.Index. It is not the patch index format the installer
// core treats as an external collaborator — it exists only so
// this CLI has something concrete to point the core at.
type manifest struct {
	Version        string           `json:"version"`
	VersionFileVer string           `json:"versionFileVer"`
	VersionFileBck string           `json:"versionFileBck"`
	Sources        []manifestSource `json:"sources"`
	Targets        []manifestTarget `json:"targets"`
}

type manifestSource struct {
	URL     string `json:"url"`
	LastPtr int64  `json:"lastPtr"`
}

type manifestTarget struct {
	Path     string          `json:"path"`
	FileSize int64           `json:"fileSize"`
	Parts    []manifestPart  `json:"parts"`
}

type manifestPart struct {
	Embedded     bool   `json:"embedded"`
	SourceIndex  int    `json:"sourceIndex"`
	SourceOffset int64  `json:"sourceOffset"`
	MaxSourceEnd int64  `json:"maxSourceEnd"`
	ExpectedHex  string `json:"expectedHex"`
}

// loadManifest reads and parses the manifest at path, without yet
// building an Index from it.
func loadManifest(path string) (*manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Extend(err, errors.New("could not read manifest"))
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Extend(err, errors.New("could not parse manifest"))
	}
	return &m, nil
}

// build assembles a memindex.Index from m.
func (m *manifest) build() (*memindex.Index, error) {
	b := memindex.NewBuilder().SetVersion(m.Version, m.VersionFileVer, m.VersionFileBck)
	for i, s := range m.Sources {
		b.SetSourceLastPtr(i, s.LastPtr)
	}
	for _, t := range m.Targets {
		tb := b.AddTarget(t.Path, t.FileSize)
		for _, p := range t.Parts {
			expected, err := hex.DecodeString(p.ExpectedHex)
			if err != nil {
				return nil, errors.Extend(err, errors.New("could not decode part content for "+t.Path))
			}
			if p.Embedded {
				tb.AddEmbeddedPart(expected)
			} else {
				tb.AddSourcePart(p.SourceIndex, p.SourceOffset, expected, p.MaxSourceEnd)
			}
		}
	}
	return b.Build(), nil
}

// sourceURLs returns the URL for every source patch, indexed by
// sourceIndex.
func (m *manifest) sourceURLs() []string {
	urls := make([]string, len(m.Sources))
	for i, s := range m.Sources {
		urls[i] = s.URL
	}
	return urls
}
