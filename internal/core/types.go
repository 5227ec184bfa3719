// Package core provides shared types, the index kind registry, and the
// publication check primitives.
package core

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
)

// Ref identifies a package at an exact version.
type Ref struct {
	Name    string
	Version string
}

func (r Ref) String() string {
	return r.Name + "@" + r.Version
}

// Crate is the registry index's view of one package: the ordered list of its
// published versions.
type Crate struct {
	Name     string
	Versions []CrateVersion
}

// CrateVersion is a single published version record from an index file.
type CrateVersion struct {
	Name   string `json:"name"`
	Num    string `json:"vers"`
	Cksum  string `json:"cksum"`
	Yanked bool   `json:"yanked"`
}

// HasVersion reports whether the crate lists exactly the given version
// string. No semantic-range matching: "1.0.0" does not match "v1.0.0" or
// "1.0.0-rc.1".
func (c *Crate) HasVersion(version string) bool {
	for _, v := range c.Versions {
		if v.Num == version {
			return true
		}
	}
	return false
}

// ParseCrate decodes an index file body: one JSON version record per line.
func ParseCrate(name string, data []byte) (*Crate, error) {
	crate := &Crate{Name: name}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var v CrateVersion
		if err := json.Unmarshal(line, &v); err != nil {
			return nil, &ParseError{Name: name, Err: err}
		}
		crate.Versions = append(crate.Versions, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Name: name, Err: err}
	}

	return crate, nil
}

// IndexPath returns the index-relative file path for a package, following the
// layout shared by the git and sparse registry indexes: short names live
// under length buckets, longer names under two 2-character prefixes.
func IndexPath(name string) string {
	name = strings.ToLower(name)
	switch len(name) {
	case 0:
		return ""
	case 1:
		return "1/" + name
	case 2:
		return "2/" + name
	case 3:
		return "3/" + name[:1] + "/" + name
	default:
		return name[0:2] + "/" + name[2:4] + "/" + name
	}
}
