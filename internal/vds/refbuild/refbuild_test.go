package refbuild

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"floe/internal/vds"
)

const sampleSidecar = `<?xml version="1.0" encoding="ISO-8859-1"?>
<Dataset xmlns="http://xml.opendap.org/ns/DAP/4.0#"
         xmlns:dmrpp="http://xml.opendap.org/dap/dmrpp/1.0.0#"
         name="20250611090000-JPL-L4_GHRSST-SSTfnd-MUR-GLOB-v02.0-fv04.1.nc">
  <Dimension name="time" size="1"/>
  <Dimension name="lat" size="17999"/>
  <Dimension name="lon" size="36000"/>
  <Int32 name="time">
    <Dim name="/time"/>
    <Attribute name="units" type="String">
      <Value>seconds since 1981-01-01 00:00:00 UTC</Value>
    </Attribute>
    <dmrpp:chunks compressionType="deflate shuffle">
      <dmrpp:chunk offset="31549" nBytes="17"/>
    </dmrpp:chunks>
  </Int32>
  <Float32 name="lat">
    <Dim name="/lat"/>
    <dmrpp:chunks compressionType="deflate">
      <dmrpp:chunk offset="31600" nBytes="22881"/>
    </dmrpp:chunks>
  </Float32>
  <Int16 name="analysed_sst">
    <Dim name="/time"/>
    <Dim name="/lat"/>
    <Dim name="/lon"/>
    <Attribute name="units" type="String">
      <Value>kelvin</Value>
    </Attribute>
    <dmrpp:chunks compressionType="deflate shuffle">
      <dmrpp:chunkDimensionSizes>1 1023 2047</dmrpp:chunkDimensionSizes>
      <dmrpp:chunk offset="334453" nBytes="126374" chunkPositionInArray="[0,0,0]"/>
      <dmrpp:chunk offset="460827" nBytes="131210" chunkPositionInArray="[0,0,2047]"/>
    </dmrpp:chunks>
  </Int16>
  <Attribute name="title" type="String">
    <Value>Daily MUR SST, Final product</Value>
  </Attribute>
  <Attribute name="spatial_resolution" type="Float64">
    <Value>0.01</Value>
  </Attribute>
  <Attribute name="time_coverage_start" type="String">
    <Value>20250610T210000Z</Value>
  </Attribute>
  <Attribute name="time_coverage_end" type="String">
    <Value>20250611T210000Z</Value>
  </Attribute>
  <Attribute name="HDF5_GLOBAL" type="Container">
    <Attribute name="ignored" type="String"><Value>x</Value></Attribute>
  </Attribute>
</Dataset>`

func TestParseDMRPP(t *testing.T) {
	doc, err := parseDMRPP([]byte(sampleSidecar))
	if err != nil {
		t.Fatalf("parseDMRPP: %v", err)
	}
	if doc.dims["lat"] != 17999 || doc.dims["lon"] != 36000 {
		t.Errorf("dims = %v", doc.dims)
	}
	if got := doc.attrs["title"]; got != "Daily MUR SST, Final product" {
		t.Errorf("title = %v", got)
	}
	if got := doc.attrs["spatial_resolution"]; got != 0.01 {
		t.Errorf("spatial_resolution = %v (%T)", got, got)
	}
	if _, ok := doc.attrs["HDF5_GLOBAL"]; ok {
		t.Error("container attribute leaked into attrs")
	}
	if len(doc.vars) != 3 {
		t.Fatalf("vars = %d, want 3", len(doc.vars))
	}
}

func TestDatasetFromSidecar(t *testing.T) {
	doc, err := parseDMRPP([]byte(sampleSidecar))
	if err != nil {
		t.Fatalf("parseDMRPP: %v", err)
	}
	ds, err := doc.dataset("s3://bucket/granule.nc")
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}

	// Midpoint of the 24h coverage window.
	want := time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC)
	if len(ds.Times) != 1 || !ds.Times[0].Equal(want) {
		t.Errorf("Times = %v, want [%v]", ds.Times, want)
	}
	if _, ok := ds.Dims[vds.TimeDim]; ok {
		t.Error("time dimension must not appear in Dims")
	}
	if _, ok := ds.Vars[vds.TimeDim]; ok {
		t.Error("time variable must not appear in Vars")
	}

	refs := ds.Vars["analysed_sst"]
	if len(refs) != 2 {
		t.Fatalf("analysed_sst refs = %d, want 2", len(refs))
	}
	if refs[0].Offset != 334453 || refs[0].Length != 126374 {
		t.Errorf("first chunk = %+v", refs[0])
	}
	if refs[1].SourceURL != "s3://bucket/granule.nc" {
		t.Errorf("SourceURL = %q", refs[1].SourceURL)
	}
	if refs[0].Codec != "deflate shuffle" {
		t.Errorf("Codec = %q", refs[0].Codec)
	}
	if refs[0].TimeIndex != 0 || refs[1].TimeIndex != 0 {
		t.Error("single-granule refs must all sit at timestep 0")
	}
}

func TestDatasetMissingCoverage(t *testing.T) {
	stripped := strings.Replace(sampleSidecar, "time_coverage_start", "x_coverage_start", 1)
	doc, err := parseDMRPP([]byte(stripped))
	if err != nil {
		t.Fatalf("parseDMRPP: %v", err)
	}
	if _, err := doc.dataset("s3://bucket/granule.nc"); err == nil {
		t.Fatal("expected error for missing coverage attribute")
	}
}

func TestBuildVirtualOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, SidecarSuffix) {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, sampleSidecar)
	}))
	defer srv.Close()

	b := New(&HTTPFetcher{Client: srv.Client()}, nil)
	ds, err := b.BuildVirtual(context.Background(), srv.URL+"/granule.nc")
	if err != nil {
		t.Fatalf("BuildVirtual: %v", err)
	}
	if got := ds.Vars["analysed_sst"][0].SourceURL; got != srv.URL+"/granule.nc" {
		t.Errorf("SourceURL = %q", got)
	}
}

func TestBuildVirtualSidecarMissing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	b := New(&HTTPFetcher{Client: srv.Client()}, nil)
	_, err := b.BuildVirtual(context.Background(), srv.URL+"/granule.nc")
	if !errors.Is(err, ErrSidecar) {
		t.Fatalf("expected ErrSidecar, got %v", err)
	}
}

func TestBuildMaterializedVerifiesRanges(t *testing.T) {
	payload := make([]byte, 600000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, SidecarSuffix) {
			fmt.Fprint(w, sampleSidecar)
			return
		}
		http.ServeContent(w, r, "granule.nc", time.Time{}, strings.NewReader(string(payload)))
	}))
	defer srv.Close()

	b := New(&HTTPFetcher{Client: srv.Client()}, nil)
	ds, err := b.BuildMaterialized(context.Background(), srv.URL+"/granule.nc")
	if err != nil {
		t.Fatalf("BuildMaterialized: %v", err)
	}
	if len(ds.Vars["analysed_sst"]) != 2 {
		t.Fatalf("unexpected refs: %+v", ds.Vars)
	}
}

func TestBuildMaterializedTruncatedObject(t *testing.T) {
	// Object shorter than the recorded chunk ranges.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, SidecarSuffix) {
			fmt.Fprint(w, sampleSidecar)
			return
		}
		http.ServeContent(w, r, "granule.nc", time.Time{}, strings.NewReader("short"))
	}))
	defer srv.Close()

	b := New(&HTTPFetcher{Client: srv.Client()}, nil)
	if _, err := b.BuildMaterialized(context.Background(), srv.URL+"/granule.nc"); err == nil {
		t.Fatal("expected error for truncated object")
	}
}
