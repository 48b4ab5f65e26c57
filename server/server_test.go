package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/dotside-studios/closet-nfc/closet"
	"github.com/dotside-studios/closet-nfc/closet/sqlstore"
	"github.com/dotside-studios/closet-nfc/nfc"
	"github.com/dotside-studios/closet-nfc/nfc/webnfc"
	"github.com/dotside-studios/closet-nfc/protocol"
)

type fakeSessions struct {
	mu          sync.Mutex
	supported   error
	busy        bool
	readOut     nfc.ScanOutcome
	writeOut    nfc.WriteOutcome
	lastOpts    nfc.ReadOptions
	lastWritten string
	cancelled   bool
	stream      []nfc.ScanOutcome
}

func (f *fakeSessions) Supported(context.Context) error { return f.supported }
func (f *fakeSessions) Reading() bool                   { return false }
func (f *fakeSessions) Writing() bool                   { return false }
func (f *fakeSessions) Busy() bool                      { return f.busy }

func (f *fakeSessions) TryRead(_ context.Context, opts nfc.ReadOptions) (nfc.ScanOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return nfc.ScanOutcome{}, nfc.ErrBusy
	}
	f.lastOpts = opts
	return f.readOut, nil
}

func (f *fakeSessions) TryWrite(_ context.Context, value string) (nfc.WriteOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return nfc.WriteOutcome{}, nfc.ErrBusy
	}
	f.lastWritten = value
	return f.writeOut, nil
}

func (f *fakeSessions) Continuous(_ context.Context, opts nfc.ReadOptions, onOutcome func(nfc.ScanOutcome)) error {
	f.mu.Lock()
	f.lastOpts = opts
	stream := f.stream
	f.mu.Unlock()
	for _, out := range stream {
		onOutcome(out)
	}
	return nil
}

func (f *fakeSessions) Cancel() bool {
	f.cancelled = true
	return true
}

type ServerSuite struct {
	suite.Suite
	ctx      context.Context
	store    *sqlstore.Store
	sessions *fakeSessions
	devices  *webnfc.Manager
	server   *Server
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}

func (s *ServerSuite) SetupTest() {
	s.ctx = context.Background()
	logger := log.New(io.Discard, "", 0)

	store, err := sqlstore.Open(sqlstore.DriverSQLite, filepath.Join(s.T().TempDir(), "closet.db"), logger)
	s.Require().NoError(err)
	s.store = store

	s.sessions = &fakeSessions{}
	s.devices = webnfc.NewManager(time.Minute, logger)
	s.server = New(Config{
		Sessions: s.sessions,
		Catalog:  closet.NewCatalog(closet.Config{Store: store, Logger: logger}),
		Devices:  s.devices,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("closet_nfc_scans_total 0\n"))
		}),
		AllowedOrigins: []string{"https://closet.local"},
		Logger:         logger,
	})
}

func (s *ServerSuite) TearDownTest() {
	s.devices.Close()
	s.store.Close()
}

func (s *ServerSuite) do(method, path string, body any) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		s.Require().NoError(err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (s *ServerSuite) decode(rec *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func (s *ServerSuite) errorCode(rec *httptest.ResponseRecorder) string {
	var resp protocol.ErrorResponse
	s.decode(rec, &resp)
	return resp.Code
}

func str(v string) *string { return &v }

func (s *ServerSuite) TestStatus() {
	s.sessions.supported = nfc.NewUnsupportedError("Probe", "no Web NFC device connected")
	s.sessions.busy = true

	rec := s.do(http.MethodGet, "/api/nfc/status", nil)
	s.Equal(http.StatusOK, rec.Code)

	var resp protocol.StatusResponse
	s.decode(rec, &resp)
	s.False(resp.Supported)
	s.Contains(resp.Reason, "no Web NFC device connected")
	s.True(resp.Busy)
	s.NotNil(resp.Devices)
	s.Empty(resp.Devices)
}

func (s *ServerSuite) TestReadPassesOptionsAndOutcome() {
	s.sessions.readOut = nfc.ScanOutcome{Success: true, TagID: "ABCDEF12", Source: nfc.SourceText1}

	rec := s.do(http.MethodPost, "/api/nfc/read", protocol.ReadRequest{
		Intended: &protocol.EntityRefInput{Type: "garment", ID: "g1"},
	})
	s.Require().Equal(http.StatusOK, rec.Code)

	var out nfc.ScanOutcome
	s.decode(rec, &out)
	s.True(out.Success)
	s.Equal("ABCDEF12", out.TagID)
	s.Equal(nfc.SourceText1, out.Source)
	s.Equal(&nfc.EntityRef{Type: nfc.EntityGarment, ID: "g1"}, s.sessions.lastOpts.Intended)
	s.False(s.sessions.lastOpts.SkipExistenceCheck)
}

func (s *ServerSuite) TestReadFailureIsAnOutcome() {
	s.sessions.readOut = nfc.ScanOutcome{Kind: nfc.KindTimeout, Message: "no tag within 30s"}

	rec := s.do(http.MethodPost, "/api/nfc/read", protocol.ReadRequest{SkipExistenceCheck: true})
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"errorKind":"TIMEOUT"`)
	s.True(s.sessions.lastOpts.SkipExistenceCheck)
}

func (s *ServerSuite) TestReadRejectsBadRequests() {
	rec := s.do(http.MethodPost, "/api/nfc/read", protocol.ReadRequest{
		Intended: &protocol.EntityRefInput{Type: "shoe", ID: "x"},
	})
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/nfc/read", map[string]any{"unknown": true})
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *ServerSuite) TestBusyIsConflict() {
	s.sessions.busy = true

	rec := s.do(http.MethodPost, "/api/nfc/read", nil)
	s.Equal(http.StatusConflict, rec.Code)
	s.Equal(protocol.ErrCodeBusy, s.errorCode(rec))

	rec = s.do(http.MethodPost, "/api/nfc/write", protocol.WriteRequest{TagID: "ABCDEF12"})
	s.Equal(http.StatusConflict, rec.Code)
}

func (s *ServerSuite) TestWrite() {
	rec := s.do(http.MethodPost, "/api/nfc/write", protocol.WriteRequest{})
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal(protocol.ErrCodeInvalidTagID, s.errorCode(rec))

	s.sessions.writeOut = nfc.WriteOutcome{TagID: "ABCDEF12", Kind: nfc.KindVerificationFailed, Message: `expected "ABCDEF12", read back "00000000"`}
	rec = s.do(http.MethodPost, "/api/nfc/write", protocol.WriteRequest{TagID: "ABCDEF12"})
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal("ABCDEF12", s.sessions.lastWritten)

	var out nfc.WriteOutcome
	s.decode(rec, &out)
	s.False(out.Success)
	s.Equal(nfc.KindVerificationFailed, out.Kind)
}

func (s *ServerSuite) TestCancelAndGenerate() {
	rec := s.do(http.MethodPost, "/api/nfc/cancel", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.True(s.sessions.cancelled)

	rec = s.do(http.MethodPost, "/api/tags/generate", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var resp protocol.GenerateResponse
	s.decode(rec, &resp)
	s.Len(resp.TagID, 32)
	s.True(nfc.IsValidIdentifier(resp.TagID))
}

func (s *ServerSuite) TestInspect() {
	s.Require().NoError(s.store.CreateGarment(s.ctx, &closet.Garment{ID: "g1", Name: "Blue Shirt", NFCTagID: str("ABCDEF12")}))
	s.sessions.readOut = nfc.ScanOutcome{
		Success:      true,
		TagID:        "ABCDEF12",
		Source:       nfc.SourceText1,
		SerialNumber: "04:A2:3B:4C",
		Records: []nfc.Record{
			nfc.NewTextRecord("ABCDEF12", "en"),
			{TNF: nfc.TNFMedia, Type: []byte("application/octet-stream"), Payload: bytes.Repeat([]byte{0xAB}, 40)},
		},
	}

	rec := s.do(http.MethodPost, "/api/tags/inspect", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.True(s.sessions.lastOpts.SkipExistenceCheck)

	var resp protocol.InspectResponse
	s.decode(rec, &resp)
	s.True(resp.Success)
	s.Require().Len(resp.Records, 2)
	s.Equal("text", resp.Records[0].Kind)
	s.Equal("ABCDEF12", resp.Records[0].Text)
	s.True(resp.Records[0].ValidID)
	s.Equal("mime", resp.Records[1].Kind)
	s.True(resp.Records[1].Truncated)
	s.Len(resp.Records[1].Hex, maxRecordHex)
	s.Require().NotNil(resp.Association)
	s.Equal("Blue Shirt", resp.Association.EntityName)
}

func (s *ServerSuite) TestFindTag() {
	s.Require().NoError(s.store.CreateBox(s.ctx, &closet.Box{ID: "b1", Name: "Winter", NFCTagID: str("1A2B3C4D")}))

	rec := s.do(http.MethodGet, "/api/tags/1a2b-3c4d", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var view protocol.AssociationView
	s.decode(rec, &view)
	s.Equal(protocol.AssociationView{TagID: "1A2B3C4D", EntityType: "box", EntityID: "b1", EntityName: "Winter"}, view)

	rec = s.do(http.MethodGet, "/api/tags/FFFFFFFF", nil)
	s.Equal(http.StatusNotFound, rec.Code)
	s.Equal(protocol.ErrCodeNotFound, s.errorCode(rec))
}

func (s *ServerSuite) TestBindAndUnbind() {
	s.Require().NoError(s.store.CreateGarment(s.ctx, &closet.Garment{ID: "g1", Name: "Coat"}))
	s.Require().NoError(s.store.CreateGarment(s.ctx, &closet.Garment{ID: "g2", Name: "Scarf", NFCTagID: str("99999999")}))

	rec := s.do(http.MethodPut, "/api/entities/garment/g1/tag", protocol.BindRequest{TagID: "xyz"})
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal(protocol.ErrCodeInvalidTagID, s.errorCode(rec))

	rec = s.do(http.MethodPut, "/api/entities/garment/g1/tag", protocol.BindRequest{TagID: "99999999"})
	s.Equal(http.StatusConflict, rec.Code)
	s.Equal(protocol.ErrCodeTagInUse, s.errorCode(rec))

	rec = s.do(http.MethodPut, "/api/entities/garment/missing/tag", protocol.BindRequest{TagID: "ABCDEF12"})
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPut, "/api/entities/garment/g1/tag", protocol.BindRequest{TagID: "abcdef12"})
	s.Require().Equal(http.StatusOK, rec.Code)
	var view protocol.AssociationView
	s.decode(rec, &view)
	s.Equal("ABCDEF12", view.TagID)
	s.Equal("g1", view.EntityID)

	var unbind protocol.UnbindResponse
	rec = s.do(http.MethodDelete, "/api/entities/garment/g1/tag", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.decode(rec, &unbind)
	s.True(unbind.Removed)

	rec = s.do(http.MethodDelete, "/api/entities/box/nope/tag", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.decode(rec, &unbind)
	s.False(unbind.Removed)

	rec = s.do(http.MethodDelete, "/api/entities/shoe/g1/tag", nil)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *ServerSuite) TestLookup() {
	s.Require().NoError(s.store.CreateGarment(s.ctx, &closet.Garment{ID: "g1", Name: "Coat", NFCTagID: str("ABCDEF12")}))
	s.Require().NoError(s.store.CreateGarment(s.ctx, &closet.Garment{ID: "g2", Name: "Jeans", BarcodeID: str("4006381333931"), Status: closet.StatusInUse}))

	rec := s.do(http.MethodPost, "/api/garments/lookup", protocol.LookupRequest{Codes: " / , "})
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/garments/lookup", protocol.LookupRequest{Codes: "abcdef12/4006381333931, MISSING1"})
	s.Require().Equal(http.StatusOK, rec.Code)
	var res closet.LookupResult
	s.decode(rec, &res)
	s.Len(res.Garments, 2)
	s.Equal([]string{"MISSING1"}, res.NotFound)
	s.Equal(1, res.InUse)
}

func (s *ServerSuite) TestAssignAndRecommend() {
	s.Require().NoError(s.store.CreateBox(s.ctx, &closet.Box{ID: "b1", Name: "Winter"}))
	s.Require().NoError(s.store.CreateGarment(s.ctx, &closet.Garment{ID: "g1", Name: "Coat"}))

	rec := s.do(http.MethodPost, "/api/boxes/b1/assign", protocol.AssignRequest{})
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/boxes/nope/assign", protocol.AssignRequest{GarmentIDs: []string{"g1"}})
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, "/api/boxes/b1/assign", protocol.AssignRequest{GarmentIDs: []string{"g1"}})
	s.Require().Equal(http.StatusOK, rec.Code)
	var a closet.Assignment
	s.decode(rec, &a)
	s.Equal("b1", a.TargetBoxID)
	s.Equal(1, a.Moved)
	s.False(a.Redirected)

	rec = s.do(http.MethodGet, "/api/boxes/recommended?limit=2", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var boxes []closet.Box
	s.decode(rec, &boxes)
	s.Require().Len(boxes, 1)
	s.Equal(1, boxes[0].GarmentCount)

	rec = s.do(http.MethodGet, "/api/boxes/recommended?limit=zero", nil)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *ServerSuite) TestAssignToFullBoxIsConflict() {
	s.Require().NoError(s.store.CreateBox(s.ctx, &closet.Box{ID: "b1", Name: "Winter"}))
	for i := range closet.BoxCapacity {
		s.Require().NoError(s.store.CreateGarment(s.ctx, &closet.Garment{ID: fmt.Sprintf("filler-%d", i), Name: "x", BoxID: str("b1")}))
	}
	s.Require().NoError(s.store.CreateGarment(s.ctx, &closet.Garment{ID: "g1", Name: "Coat"}))

	rec := s.do(http.MethodPost, "/api/boxes/b1/assign", protocol.AssignRequest{GarmentIDs: []string{"g1"}})
	s.Equal(http.StatusConflict, rec.Code)
	s.Equal(protocol.ErrCodeBoxFull, s.errorCode(rec))
}

func (s *ServerSuite) TestBoxCRUD() {
	s.Require().NoError(s.store.CreateGarment(s.ctx, &closet.Garment{ID: "g1", Name: "Coat", NFCTagID: str("11111111")}))

	rec := s.do(http.MethodGet, "/api/boxes", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var list boxList
	s.decode(rec, &list)
	s.Empty(list.Boxes)
	s.Empty(list.MostEmptyID)

	rec = s.do(http.MethodPost, "/api/boxes", protocol.BoxRequest{Name: "Winter", Location: "Attic", NFCTagID: "aaaa1111"})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var winter closet.Box
	s.decode(rec, &winter)
	s.Require().NotNil(winter.NFCTagID)
	s.Equal("AAAA1111", *winter.NFCTagID)

	rec = s.do(http.MethodPost, "/api/boxes", protocol.BoxRequest{Name: "Summer"})
	s.Require().Equal(http.StatusCreated, rec.Code)
	var summer closet.Box
	s.decode(rec, &summer)

	rec = s.do(http.MethodPost, "/api/boxes/"+winter.ID+"/assign", protocol.AssignRequest{GarmentIDs: []string{"g1"}})
	s.Require().Equal(http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/boxes", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.decode(rec, &list)
	s.Require().Len(list.Boxes, 2)
	s.Equal(closet.BoxCapacity, list.Capacity)
	counts := map[string]int{}
	for _, b := range list.Boxes {
		counts[b.ID] = b.GarmentCount
	}
	s.Equal(map[string]int{winter.ID: 1, summer.ID: 0}, counts)
	s.Equal(summer.ID, list.MostEmptyID)

	rec = s.do(http.MethodGet, "/api/tags/AAAA1111", nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	rec = s.do(http.MethodPut, "/api/boxes/"+winter.ID, protocol.BoxRequest{Name: "Cold weather", NFCTagID: "BBBB2222"})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var updated closet.Box
	s.decode(rec, &updated)
	s.Equal("Cold weather", updated.Name)
	s.Equal(1, updated.GarmentCount)
	s.Equal(http.StatusNotFound, s.do(http.MethodGet, "/api/tags/AAAA1111", nil).Code)

	rec = s.do(http.MethodDelete, "/api/boxes/"+winter.ID, nil)
	s.Equal(http.StatusNoContent, rec.Code)
	s.Equal(http.StatusNotFound, s.do(http.MethodGet, "/api/tags/BBBB2222", nil).Code)
	s.Equal(http.StatusNotFound, s.do(http.MethodDelete, "/api/boxes/"+winter.ID, nil).Code)
}

func (s *ServerSuite) TestBoxCRUDErrors() {
	s.Require().NoError(s.store.CreateGarment(s.ctx, &closet.Garment{ID: "g1", Name: "Coat", NFCTagID: str("11111111")}))
	s.Require().NoError(s.store.CreateBox(s.ctx, &closet.Box{ID: "b1", Name: "Winter"}))

	tests := []struct {
		method, path string
		body         any
		status       int
		code         string
	}{
		{http.MethodPost, "/api/boxes", protocol.BoxRequest{Name: "Spare", NFCTagID: "11111111"}, http.StatusConflict, protocol.ErrCodeTagInUse},
		{http.MethodPost, "/api/boxes", protocol.BoxRequest{Name: "Spare", NFCTagID: "xyz"}, http.StatusBadRequest, protocol.ErrCodeInvalidTagID},
		{http.MethodPost, "/api/boxes", protocol.BoxRequest{}, http.StatusBadRequest, protocol.ErrCodeInvalidRequest},
		{http.MethodPost, "/api/boxes", map[string]string{"color": "red"}, http.StatusBadRequest, protocol.ErrCodeInvalidRequest},
		{http.MethodPut, "/api/boxes/b1", protocol.BoxRequest{Name: "Winter", NFCTagID: "11111111"}, http.StatusConflict, protocol.ErrCodeTagInUse},
		{http.MethodPut, "/api/boxes/missing", protocol.BoxRequest{Name: "x"}, http.StatusNotFound, protocol.ErrCodeNotFound},
	}
	for _, tt := range tests {
		rec := s.do(tt.method, tt.path, tt.body)
		s.Equal(tt.status, rec.Code, "%s %s", tt.method, tt.path)
		s.Equal(tt.code, s.errorCode(rec), "%s %s", tt.method, tt.path)
	}
}

func (s *ServerSuite) TestContinuousStreamsEvents() {
	s.sessions.stream = []nfc.ScanOutcome{
		{Success: true, TagID: "AAAA1111"},
		{Success: false, Message: "no usable identifier"},
	}

	rec := s.do(http.MethodGet, "/api/nfc/continuous?skipExistenceCheck=true", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal("text/event-stream", rec.Header().Get("Content-Type"))
	s.True(s.sessions.lastOpts.SkipExistenceCheck)

	body := rec.Body.String()
	s.Equal(2, strings.Count(body, "event: outcome\n"))
	s.Contains(body, `"tagId":"AAAA1111"`)
}

func (s *ServerSuite) TestContinuousBusyIsConflict() {
	s.sessions.busy = true
	rec := s.do(http.MethodGet, "/api/nfc/continuous", nil)
	s.Equal(http.StatusConflict, rec.Code)
	s.Equal(protocol.ErrCodeBusy, s.errorCode(rec))
}

func (s *ServerSuite) TestMetricsAndSocketRoutes() {
	rec := s.do(http.MethodGet, "/metrics", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "closet_nfc_scans_total")

	rec = s.do(http.MethodGet, "/ws", nil)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/ca.pem", nil)
	s.Equal(http.StatusNotFound, rec.Code, "no CA handler configured")
}

func (s *ServerSuite) TestCORS() {
	req := httptest.NewRequest(http.MethodOptions, "/api/nfc/status", nil)
	req.Header.Set("Origin", "https://closet.local")
	rec := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(rec, req)
	s.Equal(http.StatusNoContent, rec.Code)
	s.Equal("https://closet.local", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/nfc/status", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	s.server.Handler().ServeHTTP(rec, req)
	s.Empty(rec.Header().Get("Access-Control-Allow-Origin"))

	s.True(s.server.checkOrigin(httptest.NewRequest(http.MethodGet, "/ws", nil)))
	req = httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://evil.example")
	s.False(s.server.checkOrigin(req))
}

func TestServeStopsOnCancel(t *testing.T) {
	srv := New(Config{
		Sessions: &fakeSessions{},
		Logger:   log.New(io.Discard, "", 0),
	})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.True(t, strings.Contains(string(body), "closet-nfc"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestWriteFailureMapsInternalErrors(t *testing.T) {
	srv := New(Config{Logger: log.New(io.Discard, "", 0)})
	rec := httptest.NewRecorder()
	srv.writeFailure(rec, httptest.NewRequest(http.MethodGet, "/x", nil), errors.New("db down"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")
}

// readEvent returns the data line of the next server-sent event.
func readEvent(t *testing.T, lines *bufio.Scanner) string {
	t.Helper()
	var data string
	for lines.Scan() {
		line := lines.Text()
		if line == "" && data != "" {
			return data
		}
		if v, ok := strings.CutPrefix(line, "data: "); ok {
			data = v
		}
	}
	t.Fatalf("stream ended before an event: %v", lines.Err())
	return ""
}

func TestContinuousStreamsTagsWithCooldown(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	r1, r2 := nfc.NewMockReader(), nfc.NewMockReader()
	clock := nfc.NewFakeClock(time.Now())
	coordinator := nfc.NewCoordinator(nfc.CoordinatorConfig{
		Opener:   nfc.NewMockOpener(r1, r2),
		Resolver: nfc.NewMockResolver(),
		Clock:    clock,
		Logger:   logger,
	})
	ts := httptest.NewServer(New(Config{Sessions: coordinator, Logger: logger}).Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/nfc/continuous?skipExistenceCheck=true", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	lines := bufio.NewScanner(resp.Body)

	emit := func(r *nfc.MockReader, id string) {
		select {
		case <-r.Scanning():
		case <-time.After(2 * time.Second):
			t.Fatal("reader never started scanning")
		}
		r.EmitTag(nfc.TagEvent{Message: nfc.Message{Records: []nfc.Record{nfc.NewTextRecord(id, nfc.DefaultLanguage)}}})
	}
	var out struct {
		Success bool   `json:"success"`
		TagID   string `json:"tagId"`
	}

	emit(r1, "AAAA1111")
	require.NoError(t, json.Unmarshal([]byte(readEvent(t, lines)), &out))
	assert.True(t, out.Success)
	assert.Equal(t, "AAAA1111", out.TagID)

	clock.BlockUntil(1)
	clock.Advance(coordinator.Timings().Cooldown)
	emit(r2, "BBBB2222")
	require.NoError(t, json.Unmarshal([]byte(readEvent(t, lines)), &out))
	assert.Equal(t, "BBBB2222", out.TagID)

	cancel()
	assert.Eventually(t, func() bool { return !coordinator.Busy() }, 2*time.Second, 10*time.Millisecond,
		"the session slot is released when the client goes away")
}
