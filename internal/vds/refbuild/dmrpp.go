package refbuild

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"time"

	"floe/internal/vds"
)

// A DMR++ document is a DAP4 dataset description augmented with per-chunk
// byte ranges. Element names arrive under two namespaces; the parser matches
// on local names only.

type dmrppDoc struct {
	name  string
	dims  map[string]int
	vars  []dmrppVar
	attrs map[string]any
}

type dmrppVar struct {
	name   string
	codec  string
	chunks []dmrppChunk
}

type dmrppChunk struct {
	offset uint64
	length uint64
}

// atomicTypes are the DAP4 element names that declare a variable.
var atomicTypes = map[string]bool{
	"Byte": true, "Char": true, "Int8": true, "UInt8": true,
	"Int16": true, "UInt16": true, "Int32": true, "UInt32": true,
	"Int64": true, "UInt64": true, "Float32": true, "Float64": true,
	"String": true,
}

func parseDMRPP(raw []byte) (*dmrppDoc, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	doc := &dmrppDoc{
		dims:  make(map[string]int),
		attrs: make(map[string]any),
	}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch {
		case start.Name.Local == "Dataset":
			doc.name = attrValue(start, "name")
		case start.Name.Local == "Dimension":
			size, err := strconv.Atoi(attrValue(start, "size"))
			if err != nil {
				return nil, fmt.Errorf("dimension %q: %w", attrValue(start, "name"), err)
			}
			doc.dims[attrValue(start, "name")] = size
		case start.Name.Local == "Attribute":
			name, value, err := parseAttribute(dec, start)
			if err != nil {
				return nil, err
			}
			if value != nil {
				doc.attrs[name] = value
			}
		case atomicTypes[start.Name.Local]:
			v, err := parseVariable(dec, start)
			if err != nil {
				return nil, err
			}
			doc.vars = append(doc.vars, v)
		}
	}
	if doc.name == "" {
		return nil, fmt.Errorf("no Dataset element")
	}
	return doc, nil
}

func parseVariable(dec *xml.Decoder, start xml.StartElement) (dmrppVar, error) {
	v := dmrppVar{name: attrValue(start, "name")}
	for {
		tok, err := dec.Token()
		if err != nil {
			return v, err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "chunks":
				v.codec = attrValue(el, "compressionType")
			case "chunk":
				offset, err := strconv.ParseUint(attrValue(el, "offset"), 10, 64)
				if err != nil {
					return v, fmt.Errorf("variable %q chunk offset: %w", v.name, err)
				}
				length, err := strconv.ParseUint(attrValue(el, "nBytes"), 10, 64)
				if err != nil {
					return v, fmt.Errorf("variable %q chunk nBytes: %w", v.name, err)
				}
				v.chunks = append(v.chunks, dmrppChunk{offset: offset, length: length})
				if err := dec.Skip(); err != nil && err != io.EOF {
					return v, err
				}
			case "Attribute":
				// Variable-level attributes are not carried into the
				// virtual dataset.
				if err := dec.Skip(); err != nil {
					return v, err
				}
			}
		case xml.EndElement:
			if el.Name.Local == start.Name.Local {
				return v, nil
			}
		}
	}
}

// parseAttribute reads a dataset-level Attribute element. Container
// attributes (nested groups) are skipped.
func parseAttribute(dec *xml.Decoder, start xml.StartElement) (string, any, error) {
	name := attrValue(start, "name")
	typ := attrValue(start, "type")
	if typ == "Container" {
		return name, nil, dec.Skip()
	}
	var values []string
	var text bytes.Buffer
	inValue := false
	for {
		tok, err := dec.Token()
		if err != nil {
			return name, nil, err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Local == "Value" {
				inValue = true
				text.Reset()
			}
		case xml.CharData:
			if inValue {
				text.Write(el)
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "Value":
				inValue = false
				values = append(values, text.String())
			case start.Name.Local:
				return name, convertAttr(typ, values), nil
			}
		}
	}
}

// convertAttr maps DAP4 attribute values onto Go scalars. Unparseable
// numerics fall back to their string form rather than failing the whole
// sidecar.
func convertAttr(typ string, values []string) any {
	one := func(s string) any {
		switch typ {
		case "Float32", "Float64":
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f
			}
		case "Byte", "Int8", "Int16", "Int32", "Int64",
			"UInt8", "UInt16", "UInt32", "UInt64":
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n
			}
		}
		return s
	}
	switch len(values) {
	case 0:
		return ""
	case 1:
		return one(values[0])
	default:
		out := make([]any, len(values))
		for i, s := range values {
			out[i] = one(s)
		}
		return out
	}
}

func attrValue(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// coverageLayouts are the timestamp formats seen in the collection's
// coverage attributes.
var coverageLayouts = []string{
	time.RFC3339,
	"20060102T150405Z",
}

func parseCoverage(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("coverage attribute is %T, not string", v)
	}
	var err error
	for _, layout := range coverageLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("coverage attribute %q: %w", s, err)
}

// dataset converts the parsed document into a one-timestep VirtualDataset
// whose chunk references all point at url.
func (d *dmrppDoc) dataset(url string) (*vds.VirtualDataset, error) {
	start, err := parseCoverage(d.attrs["time_coverage_start"])
	if err != nil {
		return nil, fmt.Errorf("time_coverage_start: %w", err)
	}
	end, err := parseCoverage(d.attrs["time_coverage_end"])
	if err != nil {
		return nil, fmt.Errorf("time_coverage_end: %w", err)
	}

	ds := &vds.VirtualDataset{
		Times: []time.Time{timeFromCoverage(start, end)},
		Dims:  make(map[string]int),
		Vars:  make(map[string][]vds.ChunkRef),
		Attrs: make(map[string]any, len(d.attrs)),
	}
	for name, size := range d.dims {
		if name == vds.TimeDim {
			continue
		}
		ds.Dims[name] = size
	}
	for k, v := range d.attrs {
		ds.Attrs[k] = v
	}
	for _, v := range d.vars {
		if v.name == vds.TimeDim || len(v.chunks) == 0 {
			continue
		}
		refs := make([]vds.ChunkRef, 0, len(v.chunks))
		for _, c := range v.chunks {
			refs = append(refs, vds.ChunkRef{
				SourceURL: url,
				Offset:    c.offset,
				Length:    c.length,
				Codec:     v.codec,
				TimeIndex: 0,
			})
		}
		ds.Vars[v.name] = refs
	}
	if len(ds.Vars) == 0 {
		return nil, fmt.Errorf("sidecar for %s declares no chunked variables", d.name)
	}
	return ds, nil
}
