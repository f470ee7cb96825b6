//go:build integration
// +build integration

package integration

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zlib"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/guided-traffic/bodyparser/internal/config"
	"github.com/guided-traffic/bodyparser/internal/monitoring"
	"github.com/guided-traffic/bodyparser/internal/server"
	"github.com/guided-traffic/bodyparser/internal/server/handlers/health"
	"github.com/guided-traffic/bodyparser/pkg/bodyparser/verify"
)

const jwtSecret = "integration-secret-0123456789abcdef"

// ServerIntegrationSuite runs the server behind a real loopback listener
type ServerIntegrationSuite struct {
	suite.Suite
	metrics *monitoring.Metrics
	server  *httptest.Server
}

func TestServerIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	suite.Run(t, new(ServerIntegrationSuite))
}

func (s *ServerIntegrationSuite) SetupSuite() {
	logrus.SetLevel(logrus.WarnLevel)

	parsers := map[string]config.ParserConfig{}
	for _, format := range []string{"json", "urlencoded", "text", "raw", "multipart"} {
		parsers[format] = config.ParserConfig{Format: format, Path: "/" + format, Limit: "64kb"}
	}
	parsers["signed"] = config.ParserConfig{Format: "json", Path: "/signed", Limit: "64kb", Verify: true}

	cfg := &config.Config{
		BindAddress:     "127.0.0.1:0",
		LogLevel:        "warn",
		LogFormat:       "text",
		ShutdownTimeout: 5,
		Parsers:         parsers,
		Combined:        true,
		Verify: config.VerifyConfig{
			JWT: config.JWTVerifyConfig{Enabled: true, Secret: jwtSecret},
		},
	}

	s.metrics = monitoring.NewMetrics()
	srv, err := server.NewServer(cfg, s.metrics, health.BuildInfo{Version: "integration"})
	require.NoError(s.T(), err)

	s.server = httptest.NewServer(srv.Handler())
}

func (s *ServerIntegrationSuite) TearDownSuite() {
	s.server.Close()
}

func (s *ServerIntegrationSuite) post(path, contentType string, body io.Reader, headers map[string]string) (*http.Response, []byte) {
	req, err := http.NewRequest(http.MethodPost, s.server.URL+path, body)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", contentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.server.Client().Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	return resp, data
}

func (s *ServerIntegrationSuite) TestChunkedUpload() {
	pr, pw := io.Pipe()
	go func() {
		for i := 0; i < 10; i++ {
			fmt.Fprintf(pw, "part%d ", i)
			time.Sleep(time.Millisecond)
		}
		pw.Close()
	}()

	resp, data := s.post("/text", "text/plain", pr, nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.JSONEq(`"part0 part1 part2 part3 part4 part5 part6 part7 part8 part9 "`, string(data))
}

func (s *ServerIntegrationSuite) TestCompressedBodies() {
	payload := []byte(`{"compressed":"yes"}`)

	var deflated bytes.Buffer
	zw := zlib.NewWriter(&deflated)
	_, err := zw.Write(payload)
	s.Require().NoError(err)
	s.Require().NoError(zw.Close())

	var brotlied bytes.Buffer
	bw := brotli.NewWriter(&brotlied)
	_, err = bw.Write(payload)
	s.Require().NoError(err)
	s.Require().NoError(bw.Close())

	for encoding, body := range map[string][]byte{"deflate": deflated.Bytes(), "br": brotlied.Bytes()} {
		resp, data := s.post("/json", "application/json", bytes.NewReader(body), map[string]string{"Content-Encoding": encoding})
		s.Equal(http.StatusOK, resp.StatusCode, encoding)
		s.JSONEq(string(payload), string(data), encoding)
	}
}

func (s *ServerIntegrationSuite) TestDeclaredLengthOverLimit() {
	body := strings.NewReader(strings.Repeat("a", 128*1024))
	resp, data := s.post("/raw", "application/octet-stream", body, nil)
	s.Equal(http.StatusRequestEntityTooLarge, resp.StatusCode)

	var doc struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	s.Require().NoError(json.Unmarshal(data, &doc))
	s.Equal("entity.too.large", doc.Error.Type)
}

func (s *ServerIntegrationSuite) TestSignedBody() {
	body := []byte(`{"amount":10}`)
	token, err := verify.SignToken(body, []byte(jwtSecret), verify.TokenOptions{Subject: "integration", TTL: time.Minute})
	s.Require().NoError(err)

	resp, data := s.post("/signed", "application/json", bytes.NewReader(body), map[string]string{"Authorization": "Bearer " + token})
	s.Equal(http.StatusOK, resp.StatusCode)
	s.JSONEq(string(body), string(data))

	resp, _ = s.post("/signed", "application/json", strings.NewReader(`{"amount":1000}`), map[string]string{"Authorization": "Bearer " + token})
	s.Equal(http.StatusForbidden, resp.StatusCode)

	resp, _ = s.post("/signed", "application/json", bytes.NewReader(body), nil)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func (s *ServerIntegrationSuite) TestClientAbort() {
	aborted := func() float64 {
		return testutil.ToFloat64(s.metrics.BodyErrors.WithLabelValues("json", "RequestAborted", "400"))
	}
	before := aborted()

	conn, err := net.Dial("tcp", strings.TrimPrefix(s.server.URL, "http://"))
	s.Require().NoError(err)

	w := bufio.NewWriter(conn)
	fmt.Fprint(w, "POST /json HTTP/1.1\r\nHost: localhost\r\nContent-Type: application/json\r\nContent-Length: 100\r\n\r\n{\"partial\":")
	s.Require().NoError(w.Flush())
	s.Require().NoError(conn.Close())

	s.Eventually(func() bool { return aborted() == before+1 }, 5*time.Second, 10*time.Millisecond)
}

func (s *ServerIntegrationSuite) TestHealth() {
	resp, err := s.server.Client().Get(s.server.URL + "/health")
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
}
