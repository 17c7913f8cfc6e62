package api

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/heftig/ltntstools/internal/engine/registry"
	"github.com/heftig/ltntstools/internal/model"
)

func makeHeaders(src string, sport uint16, dst string, dport uint16) *model.PacketHeaders {
	return &model.PacketHeaders{
		IP: model.IPv4Header{
			SrcIP:    net.ParseIP(src).To4(),
			DstIP:    net.ParseIP(dst).To4(),
			TTL:      64,
			Protocol: 17,
		},
		UDP: model.UDPHeader{SrcPort: sport, DstPort: dport},
	}
}

func newServer(t *testing.T, n int) (*registry.Registry, *httptest.Server) {
	t.Helper()
	reg := registry.New(registry.Config{})
	for i := 0; i < n; i++ {
		reg.FindOrCreate(makeHeaders("10.0.0.1", 33000, "227.1.20.80", uint16(4000+i)))
	}
	srv := httptest.NewServer(NewHandler(reg).Router())
	t.Cleanup(srv.Close)
	return reg, srv
}

func TestListStreams(t *testing.T) {
	_, srv := newServer(t, 3)

	resp, err := http.Get(srv.URL + "/api/v1/streams")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var views []streamView
	if err := json.NewDecoder(resp.Body).Decode(&views); err != nil {
		t.Fatal(err)
	}
	if len(views) != 3 {
		t.Fatalf("got %d streams, want 3", len(views))
	}
	if views[0].Dst != "227.1.20.80:4000" {
		t.Errorf("first dst = %s", views[0].Dst)
	}
	if views[0].Recording != "inactive" {
		t.Errorf("recording = %s", views[0].Recording)
	}
	if views[0].PayloadType != "???" {
		t.Errorf("payload type = %s", views[0].PayloadType)
	}
}

func TestSelectAndToggle(t *testing.T) {
	reg, srv := newServer(t, 2)

	post := func(path, action string) *http.Response {
		t.Helper()
		resp, err := http.Post(srv.URL+path, "application/json",
			strings.NewReader(`{"action":"`+action+`"}`))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp
	}

	if resp := post("/api/v1/select", "first"); resp.StatusCode != http.StatusOK {
		t.Fatalf("select first: status = %d", resp.StatusCode)
	}
	streams := reg.Streams()
	if !streams[0].HasFlag(model.FlagSelected) {
		t.Error("first stream not selected")
	}

	if resp := post("/api/v1/toggle", "record"); resp.StatusCode != http.StatusOK {
		t.Fatalf("toggle record: status = %d", resp.StatusCode)
	}
	if streams[0].Phase != model.RecordStartRequested {
		t.Errorf("phase = %v, want start requested", streams[0].Phase)
	}

	if resp := post("/api/v1/select", "bogus"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bogus action: status = %d, want 400", resp.StatusCode)
	}
}

func TestHistogramEndpoint(t *testing.T) {
	_, srv := newServer(t, 1)

	resp, err := http.Get(srv.URL + "/api/v1/streams/227.1.20.80:4000/histogram")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	resp2, err := http.Get(srv.URL + "/api/v1/streams/1.2.3.4:9/histogram")
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("missing stream: status = %d, want 404", resp2.StatusCode)
	}
}

func TestCacheEndpoint(t *testing.T) {
	reg, srv := newServer(t, 1)
	// One repeat lookup to produce a hit so the ratio becomes defined.
	reg.FindOrCreate(makeHeaders("10.0.0.1", 33000, "227.1.20.80", 4000))

	resp, err := http.Get(srv.URL + "/api/v1/cache")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["hits"] != 1 || body["misses"] != 1 {
		t.Errorf("hits=%v misses=%v, want 1/1", body["hits"], body["misses"])
	}
	if _, ok := body["ratio"]; !ok {
		t.Error("ratio missing from response")
	}
}
