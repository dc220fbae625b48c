// Package detector serves a detector's compact description through the
// conditions cache.
package detector

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io/fs"
	"path"
	"reflect"

	"hps-conditions/internal/conditions"
	"hps-conditions/internal/domain"
)

// CompactName is the conditions-set name the compact description is cached
// under.
const CompactName = "compact.xml"

// Constant is a named value from the compact define block.
type Constant struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// Info is the compact info element.
type Info struct {
	Name    string `xml:"name,attr"`
	Title   string `xml:"title,attr"`
	Author  string `xml:"author,attr"`
	Version string `xml:"version,attr"`
}

// Subdetector is a top-level detector element of the compact description.
type Subdetector struct {
	ID   int    `xml:"id,attr"`
	Name string `xml:"name,attr"`
	Type string `xml:"type,attr"`
}

// CompactInfo is the part of the compact description the conditions system
// reads. Everything else is kept only as raw bytes.
type CompactInfo struct {
	XMLName   xml.Name      `xml:"lccdd"`
	Header    Info          `xml:"info"`
	Constants []Constant    `xml:"define>constant"`
	Detectors []Subdetector `xml:"detectors>detector"`
}

// Detector is a parsed compact description.
type Detector struct {
	Name    string
	Compact []byte
	Info    CompactInfo
}

// Constant returns the value of a define constant.
func (d *Detector) Constant(name string) (string, bool) {
	for _, c := range d.Info.Constants {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// Subdetector returns the named subdetector.
func (d *Detector) Subdetector(name string) (Subdetector, bool) {
	for _, s := range d.Info.Detectors {
		if s.Name == name {
			return s, true
		}
	}
	return Subdetector{}, false
}

// Parse decodes a compact description.
func Parse(name string, compact []byte) (*Detector, error) {
	d := &Detector{Name: name, Compact: compact}
	dec := xml.NewDecoder(bytes.NewReader(compact))
	if err := dec.Decode(&d.Info); err != nil {
		return nil, domain.ErrValidation("parse compact description of detector %q: %v", name, err)
	}
	return d, nil
}

// Converter loads <detector>/compact.xml from a file system. The result does
// not depend on the run.
type Converter struct {
	fsys fs.FS
}

// NewConverter creates a Converter reading detector directories from fsys.
func NewConverter(fsys fs.FS) *Converter {
	return &Converter{fsys: fsys}
}

// Type returns *Detector.
func (c *Converter) Type() reflect.Type { return reflect.TypeFor[*Detector]() }

// Name returns CompactName.
func (c *Converter) Name() string { return CompactName }

// RunDependent returns false.
func (c *Converter) RunDependent() bool { return false }

// Load reads and parses the current detector's compact description.
func (c *Converter) Load(_ context.Context, m *conditions.Manager, name string) (any, error) {
	det := m.Detector()
	if !fs.ValidPath(det) {
		return nil, domain.ErrValidation("invalid detector name %q", det)
	}
	file := name
	if file == "" {
		file = CompactName
	}
	data, err := fs.ReadFile(c.fsys, path.Join(det, file))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrNotFound("detector %q has no %s", det, file)
	}
	if err != nil {
		return nil, err
	}
	return Parse(det, data)
}
